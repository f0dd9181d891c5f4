package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit records.
//
// It MUST be append-only from the engine's perspective. List exists for
// the review API, not for the decision path.
type Repository interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context, workspaceID string, limit int) ([]Record, error)
}

// Service records autonomous decisions and actions.
//
// IMPORTANT:
// - Every consequential decision must be inspectable here; a denied action
//   still gets a record (as a suggestion event).
// - Callers should treat recording as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidRecord = errors.New("audit: invalid record")

func (s *Service) Append(ctx context.Context, r Record) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if r.WorkspaceID == "" {
		return ErrInvalidRecord
	}
	if r.Actor == "" {
		return ErrInvalidRecord
	}
	if r.ActionType == "" {
		return ErrInvalidRecord
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, r)
}

// RecordDecision captures an autonomous decision with its full context.
func (s *Service) RecordDecision(ctx context.Context, workspaceID, decisionID, actionType, description, detail string, simulated bool) error {
	return s.Append(ctx, Record{
		WorkspaceID: workspaceID,
		Actor:       ActorAutonomous,
		ActionType:  actionType,
		Description: description,
		Detail:      detail,
		Simulated:   simulated,
		DecisionID:  decisionID,
	})
}

// RecordAction captures an executed autonomous action against a target.
func (s *Service) RecordAction(ctx context.Context, workspaceID, actionType, description, detail, campaignID, leadID string, simulated, approved bool) error {
	return s.Append(ctx, Record{
		WorkspaceID: workspaceID,
		Actor:       ActorAutonomous,
		ActionType:  actionType,
		Description: description,
		Detail:      detail,
		Simulated:   simulated,
		Approved:    approved,
		CampaignID:  campaignID,
		LeadID:      leadID,
	})
}

func (s *Service) List(ctx context.Context, workspaceID string, limit int) ([]Record, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if workspaceID == "" {
		return nil, ErrInvalidRecord
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, workspaceID, limit)
}
