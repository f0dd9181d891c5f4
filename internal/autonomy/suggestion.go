package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autopilot-platform/internal/audit"
	"autopilot-platform/internal/store"

	"github.com/google/uuid"
)

// Suggestion is the visible artifact of a denied autonomous action: the
// engine found something worth doing but lacked authority, so the user gets
// a recommendation instead of a silent no-op.
type Suggestion struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	OwnerID     string     `json:"owner_id"`
	Action      ActionType `json:"action"`
	CampaignID  string     `json:"campaign_id,omitempty"`
	LeadID      string     `json:"lead_id,omitempty"`

	Title   string         `json:"title"`
	Body    string         `json:"body,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`

	Status SuggestionStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionAccepted  SuggestionStatus = "accepted"
	SuggestionDismissed SuggestionStatus = "dismissed"
)

const suggestionCollection = "suggestions"

// SuggestionService persists suggestions and records their lifecycle in the
// audit trail.
type SuggestionService struct {
	st    store.Store
	audit *audit.Service
	clock func() time.Time
}

func NewSuggestionService(st store.Store, auditSvc *audit.Service) *SuggestionService {
	return &SuggestionService{st: st, audit: auditSvc, clock: time.Now}
}

// CreateFromDenied converts a denied ActionRequest into a pending
// suggestion. The request itself is never mutated.
func (s *SuggestionService) CreateFromDenied(ctx context.Context, req ActionRequest, title string) (Suggestion, error) {
	if req.WorkspaceID == "" || req.OwnerID == "" || req.Action == "" {
		return Suggestion{}, ErrValidation
	}
	now := s.clock().UTC()
	sug := Suggestion{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		OwnerID:     req.OwnerID,
		Action:      req.Action,
		CampaignID:  req.CampaignID,
		LeadID:      req.LeadID,
		Title:       title,
		Payload:     req.Payload,
		Status:      SuggestionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	body, err := json.Marshal(sug)
	if err != nil {
		return Suggestion{}, err
	}
	if _, err := s.st.Put(ctx, sug.WorkspaceID, suggestionCollection, sug.ID, json.RawMessage(body)); err != nil {
		return Suggestion{}, err
	}

	if s.audit != nil {
		detail, _ := json.Marshal(map[string]any{"suggestion_id": sug.ID, "action": sug.Action})
		// Best-effort; a failed audit write must not hide the suggestion.
		_ = s.audit.Append(ctx, audit.Record{
			WorkspaceID: sug.WorkspaceID,
			Actor:       audit.ActorAutonomous,
			ActionType:  string(sug.Action),
			Description: "action not authorized, suggestion created: " + title,
			Detail:      string(detail),
			CampaignID:  sug.CampaignID,
			LeadID:      sug.LeadID,
		})
	}
	return sug, nil
}

// List returns a workspace's suggestions, optionally filtered by status.
func (s *SuggestionService) List(ctx context.Context, workspaceID string, status SuggestionStatus) ([]Suggestion, error) {
	if workspaceID == "" {
		return nil, ErrValidation
	}
	docs, err := s.st.List(ctx, workspaceID, suggestionCollection)
	if err != nil {
		return nil, err
	}
	var out []Suggestion
	for _, doc := range docs {
		var sug Suggestion
		if err := doc.Decode(&sug); err != nil {
			return nil, err
		}
		if status != "" && sug.Status != status {
			continue
		}
		out = append(out, sug)
	}
	return out, nil
}

// Resolve moves a pending suggestion to accepted or dismissed.
func (s *SuggestionService) Resolve(ctx context.Context, workspaceID, suggestionID string, status SuggestionStatus, userID string) (Suggestion, error) {
	if status != SuggestionAccepted && status != SuggestionDismissed {
		return Suggestion{}, fmt.Errorf("%w: status must be accepted or dismissed", ErrValidation)
	}
	doc, err := s.st.Get(ctx, workspaceID, suggestionCollection, suggestionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Suggestion{}, ErrNotFound
		}
		return Suggestion{}, err
	}
	var sug Suggestion
	if err := doc.Decode(&sug); err != nil {
		return Suggestion{}, err
	}
	if sug.Status != SuggestionPending {
		return Suggestion{}, fmt.Errorf("%w: suggestion already %s", ErrValidation, sug.Status)
	}
	sug.Status = status
	sug.UpdatedAt = s.clock().UTC()

	body, err := json.Marshal(sug)
	if err != nil {
		return Suggestion{}, err
	}
	if _, err := s.st.UpdateConditional(ctx, workspaceID, suggestionCollection, suggestionID, doc.Version, json.RawMessage(body)); err != nil {
		return Suggestion{}, err
	}

	if s.audit != nil {
		_ = s.audit.Append(ctx, audit.Record{
			WorkspaceID: workspaceID,
			Actor:       audit.ActorUser,
			ActorUserID: userID,
			ActionType:  string(sug.Action),
			Description: "suggestion " + string(status),
			Approved:    status == SuggestionAccepted,
			CampaignID:  sug.CampaignID,
			LeadID:      sug.LeadID,
		})
	}
	return sug, nil
}
