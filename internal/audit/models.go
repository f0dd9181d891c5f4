package audit

import "time"

// Record is an immutable, append-only trail entry for every autonomous
// decision and action.
//
// Invariants:
// - Records are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - Recording is best-effort; never block the decision path on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_records with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.
type Record struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// Actor identifies who acted: the autonomous engine, the platform
	// itself, or a human user.
	Actor Actor `json:"actor" db:"actor"`

	// ActorUserID is set when Actor == user.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// ActionType is the business action category (e.g. content_variation,
	// escalation, sequence_step).
	ActionType string `json:"action_type" db:"action_type"`

	// Description is a short human-readable summary for review screens.
	Description string `json:"description,omitempty" db:"description"`

	// Detail is optional JSON with the full decision context
	// (expected values considered, constraints, chosen option).
	Detail string `json:"detail,omitempty" db:"detail"`

	// Simulated is true when the action ran in simulation mode and had no
	// external effect.
	Simulated bool `json:"simulated" db:"simulated"`

	// Approved is true when a human approved the action before execution.
	Approved bool `json:"approved" db:"approved"`

	// Target identifiers (optional, depending on the action).
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	LeadID     string `json:"lead_id,omitempty" db:"lead_id"`
	DecisionID string `json:"decision_id,omitempty" db:"decision_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Actor string

const (
	ActorAutonomous Actor = "autonomous"
	ActorSystem     Actor = "system"
	ActorUser       Actor = "user"
)
