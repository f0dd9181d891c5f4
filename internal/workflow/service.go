package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autopilot-platform/internal/audit"
	"autopilot-platform/internal/leads"
	"autopilot-platform/internal/store"

	"github.com/google/uuid"
)

// defaultResponseWindow applies when a lead has no stated preference.
const defaultResponseWindow = 48 * time.Hour

// Service is the entry point for workflow and sequence operations: API
// handlers call it directly, the scheduler calls it for due instances.
//
// All writes go through a conditional update with a single retry; losing
// twice means another worker is actively processing the same instance and
// this caller's work is obsolete.
type Service struct {
	repo   Repo
	esc    *Escalator
	seqEng *SequenceEngine
	leads  leads.Source
	audit  *audit.Service

	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repo, esc *Escalator, seqEng *SequenceEngine, src leads.Source, auditSvc *audit.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:   repo,
		esc:    esc,
		seqEng: seqEng,
		leads:  src,
		audit:  auditSvc,
		log:    log,
		clock:  time.Now,
	}
}

// StartWorkflow creates a pending instance and immediately attempts first
// contact on the lead's highest-priority reachable channel.
func (s *Service) StartWorkflow(ctx context.Context, workspaceID, leadID string, objective Objective) (Instance, error) {
	if workspaceID == "" || leadID == "" {
		return Instance{}, store.ErrInvalidArgument
	}
	switch objective {
	case ObjectiveAwareness, ObjectiveConversion:
	default:
		return Instance{}, fmt.Errorf("%w: unknown objective %q", store.ErrInvalidArgument, objective)
	}

	lead, err := s.leads.GetProfile(ctx, workspaceID, leadID)
	if err != nil {
		return Instance{}, err
	}

	now := s.clock().UTC()
	inst := Instance{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		LeadID:         leadID,
		Objective:      objective,
		Status:         StatusPending,
		ResponseWindow: lead.Preferences.ResponseWindow,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if inst.ResponseWindow <= 0 {
		inst.ResponseWindow = defaultResponseWindow
	}
	if err := s.esc.Start(&inst, lead); err != nil {
		return Instance{}, err
	}
	if err := s.repo.CreateWorkflow(ctx, &inst); err != nil {
		return Instance{}, err
	}
	s.recordAudit(ctx, inst, "workflow_started",
		fmt.Sprintf("first contact on %s", inst.CurrentChannel))
	return inst, nil
}

func (s *Service) GetWorkflow(ctx context.Context, workspaceID, id string) (Instance, error) {
	return s.repo.GetWorkflow(ctx, workspaceID, id)
}

func (s *Service) ListWorkflows(ctx context.Context, workspaceID string) ([]Instance, error) {
	return s.repo.ListWorkflows(ctx, workspaceID)
}

// HandleResponse folds an inbound lead reaction into the workflow instance
// and into any active sequences for the same lead.
func (s *Service) HandleResponse(ctx context.Context, workspaceID, instanceID string, resp Response) (Instance, error) {
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = s.clock().UTC()
	}

	inst, err := s.updateWorkflow(ctx, workspaceID, instanceID, func(inst *Instance) error {
		if err := s.esc.EvaluateResponse(inst, resp); err != nil {
			return err
		}
		return s.esc.CheckConversion(inst)
	})
	if err != nil {
		return Instance{}, err
	}

	s.markSequencesResponded(ctx, workspaceID, inst.LeadID, resp.ReceivedAt)
	s.recordAudit(ctx, inst, "response_recorded", string(resp.Sentiment)+" response")
	return inst, nil
}

// ProcessDueWorkflow escalates one instance whose response window lapsed.
// A version conflict means another worker already handled it; that is not
// an error.
func (s *Service) ProcessDueWorkflow(ctx context.Context, inst Instance) error {
	lead, err := s.leads.GetProfile(ctx, inst.WorkspaceID, inst.LeadID)
	if err != nil {
		return err
	}
	if err := s.esc.Escalate(&inst, lead); err != nil {
		return err
	}
	if err := s.repo.UpdateWorkflow(ctx, &inst); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}
	desc := fmt.Sprintf("escalated to %s", inst.CurrentChannel)
	if inst.Status == StatusFailed {
		desc = "failed: " + inst.FailReason
	}
	s.recordAudit(ctx, inst, "workflow_escalated", desc)
	return nil
}

// StartSequence validates and activates a nurturing sequence; the first
// step becomes due immediately.
func (s *Service) StartSequence(ctx context.Context, workspaceID, leadID string, steps []Step) (SequenceInstance, error) {
	if workspaceID == "" || leadID == "" || len(steps) == 0 {
		return SequenceInstance{}, store.ErrInvalidArgument
	}
	for i, st := range steps {
		if err := validateStep(st); err != nil {
			return SequenceInstance{}, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if _, err := s.leads.GetProfile(ctx, workspaceID, leadID); err != nil {
		return SequenceInstance{}, err
	}

	now := s.clock().UTC()
	seq := SequenceInstance{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		Steps:       steps,
		Status:      SequenceActive,
		NextDueAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSequence(ctx, &seq); err != nil {
		return SequenceInstance{}, err
	}
	return seq, nil
}

func (s *Service) GetSequence(ctx context.Context, workspaceID, id string) (SequenceInstance, error) {
	return s.repo.GetSequence(ctx, workspaceID, id)
}

// PauseSequence suspends processing; the cursor and context are preserved.
func (s *Service) PauseSequence(ctx context.Context, workspaceID, id string) (SequenceInstance, error) {
	return s.updateSequence(ctx, workspaceID, id, func(seq *SequenceInstance) error {
		if seq.Terminal() {
			return ErrTerminal
		}
		if seq.Status != SequenceActive {
			return fmt.Errorf("%w: pause from %q", ErrBadTransition, seq.Status)
		}
		seq.Status = SequencePaused
		seq.UpdatedAt = s.clock().UTC()
		return nil
	})
}

// ResumeSequence reactivates a paused sequence and makes the current step
// due immediately.
func (s *Service) ResumeSequence(ctx context.Context, workspaceID, id string) (SequenceInstance, error) {
	return s.updateSequence(ctx, workspaceID, id, func(seq *SequenceInstance) error {
		if seq.Status != SequencePaused {
			return fmt.Errorf("%w: resume from %q", ErrBadTransition, seq.Status)
		}
		now := s.clock().UTC()
		seq.Status = SequenceActive
		seq.NextDueAt = &now
		seq.UpdatedAt = now
		return nil
	})
}

// ProcessDueSequence advances one due sequence by a single step.
func (s *Service) ProcessDueSequence(ctx context.Context, seq SequenceInstance) error {
	if err := s.seqEng.Advance(ctx, &seq); err != nil {
		return err
	}
	if err := s.repo.UpdateSequence(ctx, &seq); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}
	return nil
}

// updateWorkflow runs fn against the current instance under a conditional
// write, retrying once on a version conflict.
func (s *Service) updateWorkflow(ctx context.Context, workspaceID, id string, fn func(*Instance) error) (Instance, error) {
	for attempt := 0; ; attempt++ {
		inst, err := s.repo.GetWorkflow(ctx, workspaceID, id)
		if err != nil {
			return Instance{}, err
		}
		if err := fn(&inst); err != nil {
			return Instance{}, err
		}
		err = s.repo.UpdateWorkflow(ctx, &inst)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= 1 {
			return Instance{}, err
		}
	}
}

func (s *Service) updateSequence(ctx context.Context, workspaceID, id string, fn func(*SequenceInstance) error) (SequenceInstance, error) {
	for attempt := 0; ; attempt++ {
		seq, err := s.repo.GetSequence(ctx, workspaceID, id)
		if err != nil {
			return SequenceInstance{}, err
		}
		if err := fn(&seq); err != nil {
			return SequenceInstance{}, err
		}
		err = s.repo.UpdateSequence(ctx, &seq)
		if err == nil {
			return seq, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= 1 {
			return SequenceInstance{}, err
		}
	}
}

func (s *Service) markSequencesResponded(ctx context.Context, workspaceID, leadID string, at time.Time) {
	all, err := s.repo.ListSequences(ctx, workspaceID)
	if err != nil {
		s.log.Warn("sequence scan failed", "workspace_id", workspaceID, "err", err)
		return
	}
	for _, seq := range all {
		if seq.LeadID != leadID || seq.Terminal() || seq.Responded {
			continue
		}
		if _, err := s.updateSequence(ctx, workspaceID, seq.ID, func(sq *SequenceInstance) error {
			s.seqEng.RecordResponse(sq, at)
			return nil
		}); err != nil {
			s.log.Warn("sequence response update failed",
				"workspace_id", workspaceID, "sequence_id", seq.ID, "err", err)
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, inst Instance, actionType, desc string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAction(ctx, inst.WorkspaceID, actionType, desc, "", "", inst.LeadID, false, false); err != nil {
		s.log.Warn("audit record failed", "workspace_id", inst.WorkspaceID, "err", err)
	}
}

func validateStep(st Step) error {
	switch st.Type {
	case StepMessage:
		if st.Channel == "" || st.Template == "" {
			return fmt.Errorf("%w: message step needs channel and template", store.ErrInvalidArgument)
		}
	case StepWait:
		if st.Delay <= 0 {
			return fmt.Errorf("%w: wait step needs a positive delay", store.ErrInvalidArgument)
		}
	case StepDecision:
		if len(st.Options) == 0 {
			return fmt.Errorf("%w: decision step needs options", store.ErrInvalidArgument)
		}
	case StepTask:
		if st.TaskNote == "" {
			return fmt.Errorf("%w: task step needs a note", store.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown step type %q", store.ErrInvalidArgument, st.Type)
	}
	if st.Condition != nil {
		switch st.Condition.Kind {
		case CondNoResponse, CondResponded:
		default:
			return fmt.Errorf("%w: unknown condition %q", store.ErrInvalidArgument, st.Condition.Kind)
		}
	}
	return nil
}
