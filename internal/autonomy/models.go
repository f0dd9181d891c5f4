package autonomy

import (
	"time"

	"autopilot-platform/internal/channel"
)

// Tier is the user-granted autonomy level. It forms a total order:
// none < suggest_only < low < medium < high. suggest_only permits no
// autonomous execution regardless of action tier.
type Tier string

const (
	TierNone        Tier = "none"
	TierSuggestOnly Tier = "suggest_only"
	TierLow         Tier = "low"
	TierMedium      Tier = "medium"
	TierHigh        Tier = "high"
)

func (t Tier) rank() int {
	switch t {
	case TierNone:
		return 0
	case TierSuggestOnly:
		return 1
	case TierLow:
		return 2
	case TierMedium:
		return 3
	case TierHigh:
		return 4
	default:
		return -1
	}
}

func ValidTier(t Tier) bool { return t.rank() >= 0 }

// ActionType is the fixed enumeration of autonomous actions.
type ActionType string

const (
	ActionContentVariation     ActionType = "content_variation"
	ActionScheduleAdjustment   ActionType = "schedule_adjustment"
	ActionBudgetReallocation   ActionType = "budget_reallocation"
	ActionABTestCreation       ActionType = "ab_test_creation"
	ActionCampaignOptimization ActionType = "campaign_optimization"
	ActionTrendImplementation  ActionType = "trend_implementation"
)

// RiskTier statically partitions action types. The mapping is part of the
// product contract; changing it changes what each autonomy tier may do.
func (a ActionType) RiskTier() (Tier, bool) {
	switch a {
	case ActionContentVariation:
		return TierLow, true
	case ActionScheduleAdjustment, ActionABTestCreation:
		return TierMedium, true
	case ActionBudgetReallocation, ActionCampaignOptimization, ActionTrendImplementation:
		return TierHigh, true
	default:
		return "", false
	}
}

// PermissionProfile is the owner's configured autonomy level. Mutated only
// by explicit user configuration.
type PermissionProfile struct {
	OwnerID     string    `json:"owner_id"`
	WorkspaceID string    `json:"workspace_id"`
	Tier        Tier      `json:"tier"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActionRequest is a single-use request for an autonomous action. It is
// never mutated after creation; a denied request spawns a Suggestion.
type ActionRequest struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	OwnerID     string     `json:"owner_id"`
	Action      ActionType `json:"action"`
	CampaignID  string     `json:"campaign_id,omitempty"`
	LeadID      string     `json:"lead_id,omitempty"`

	// Payload carries action-specific parameters (e.g. the proposed
	// schedule slot).
	Payload map[string]any `json:"payload,omitempty"`

	// Simulated actions run end to end without external effect.
	Simulated bool `json:"simulated"`

	CreatedAt time.Time `json:"created_at"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Opportunity is a detected, quantified improvement candidate for a
// campaign. Read-only; superseded by the next detection run.
type Opportunity struct {
	Type       ActionType `json:"type"`
	Priority   Priority   `json:"priority"`
	CampaignID string     `json:"campaign_id"`

	// Metrics is the supporting figures snapshot (means, rates, percent
	// change) that justified the emission.
	Metrics map[string]float64 `json:"metrics"`

	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Option is one candidate action with its current expected value.
type Option struct {
	Action ActionType `json:"action"`

	// Channel is the communication channel the action would use, when it
	// messages a lead directly. Empty for campaign-level actions.
	Channel channel.Channel `json:"channel,omitempty"`

	ExpectedValue float64 `json:"expected_value"`

	Payload map[string]any `json:"payload,omitempty"`
}

// Constraints bound a single decision.
type Constraints struct {
	MaxAttempts     int           `json:"max_attempts"`
	CurrentAttempts int           `json:"current_attempts"`
	TimeConstraint  time.Duration `json:"time_constraint,omitempty"`
	RiskTolerance   float64       `json:"risk_tolerance,omitempty"`
}

// Decision is the immutable record of one engine selection.
type Decision struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`

	// Stop is true when the engine declined to act (budget exhausted,
	// every option denied, or a non-fatal internal failure).
	Stop   bool       `json:"stop"`
	Action ActionType `json:"action,omitempty"`
	Chosen *Option    `json:"chosen,omitempty"`

	Considered  []Option    `json:"considered"`
	Constraints Constraints `json:"constraints"`
	Rationale   string      `json:"rationale"`

	// ContextBucket localizes the learning update for this decision.
	ContextBucket string `json:"context_bucket,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the observed effect of an executed decision. Consumed exactly
// once by the learning update.
type Outcome struct {
	DecisionID string `json:"decision_id"`
	Success    bool   `json:"success"`

	// Signal qualifies the response: positive_reply, neutral_reply,
	// click, conversion, none.
	Signal string `json:"signal,omitempty"`

	TimeToResponse time.Duration `json:"time_to_response,omitempty"`
	ObservedAt     time.Time     `json:"observed_at"`
}
