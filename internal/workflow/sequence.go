package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autopilot-platform/internal/autonomy"
	"autopilot-platform/internal/channel"
	"autopilot-platform/internal/leads"
	"autopilot-platform/internal/store"

	"github.com/google/uuid"
)

// retryBackoff spaces out re-delivery of a failed message step.
const retryBackoff = 15 * time.Minute

// SequenceEngine advances nurturing sequences one step at a time. Each
// Advance call processes exactly the step under the cursor; the scheduler
// re-dispatches the instance when NextDueAt lapses.
type SequenceEngine struct {
	exec   channel.Executor
	lead   leads.Source
	engine *autonomy.Engine
	st     store.Store

	log   *slog.Logger
	clock func() time.Time
}

func NewSequenceEngine(exec channel.Executor, lead leads.Source, engine *autonomy.Engine, st store.Store, log *slog.Logger) *SequenceEngine {
	if log == nil {
		log = slog.Default()
	}
	return &SequenceEngine{
		exec:   exec,
		lead:   lead,
		engine: engine,
		st:     st,
		log:    log,
		clock:  time.Now,
	}
}

// Advance executes the step under the cursor and mutates seq in place.
// Paused instances are left untouched; callers persist the result.
//
// The cursor only ever moves forward. A failing message step keeps the
// cursor in place and retries up to the ceiling; anything else is either
// executed or skipped, never revisited.
func (e *SequenceEngine) Advance(ctx context.Context, seq *SequenceInstance) error {
	if seq.Terminal() {
		return ErrTerminal
	}
	if seq.Status == SequencePaused {
		return nil
	}
	now := e.clock().UTC()

	if seq.Cursor >= len(seq.Steps) {
		e.complete(seq, now)
		return nil
	}

	step := seq.Steps[seq.Cursor]
	if !e.conditionHolds(step.Condition, seq) {
		e.record(seq, "skipped", "condition not met", now)
		e.advance(seq, now, now)
		return nil
	}

	switch step.Type {
	case StepMessage:
		return e.runMessage(ctx, seq, step, now)
	case StepWait:
		e.record(seq, "scheduled", step.Delay.String(), now)
		e.advance(seq, now, now.Add(step.Delay))
		return nil
	case StepDecision:
		return e.runDecision(ctx, seq, step, now)
	case StepTask:
		return e.runTask(ctx, seq, step, now)
	default:
		// Unknown step types fail the instance rather than being skipped;
		// a malformed sequence should be visible, not silently shortened.
		e.failSeq(seq, fmt.Sprintf("unknown step type %q", step.Type), now)
		return nil
	}
}

// RecordResponse folds an observed lead reaction into sequence context so
// later conditional steps can branch on it.
func (e *SequenceEngine) RecordResponse(seq *SequenceInstance, at time.Time) {
	seq.Responded = true
	t := at.UTC()
	seq.LastResponseAt = &t
	seq.UpdatedAt = e.clock().UTC()
}

func (e *SequenceEngine) conditionHolds(c *StepCondition, seq *SequenceInstance) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case CondNoResponse:
		return !seq.Responded
	case CondResponded:
		return seq.Responded
	default:
		return false
	}
}

func (e *SequenceEngine) runMessage(ctx context.Context, seq *SequenceInstance, step Step, now time.Time) error {
	lead, err := e.lead.GetProfile(ctx, seq.WorkspaceID, seq.LeadID)
	if err != nil {
		return e.retryOrFail(seq, fmt.Sprintf("lead lookup: %v", err), now)
	}
	addr, ok := lead.ContactPoint(step.Channel)
	if !ok || !lead.HasOptedIn(step.Channel) {
		// Not retryable: consent and reachability do not change on a
		// 15-minute backoff.
		e.failSeq(seq, fmt.Sprintf("lead not contactable on %s", step.Channel), now)
		return nil
	}

	res, err := e.exec.Send(ctx, channel.Message{
		WorkspaceID: seq.WorkspaceID,
		LeadID:      seq.LeadID,
		Channel:     step.Channel,
		Recipient:   addr,
		Subject:     renderTemplate(step.Subject, lead),
		Body:        renderTemplate(step.Template, lead),
	})
	if err != nil {
		return e.retryOrFail(seq, fmt.Sprintf("send on %s: %v", step.Channel, err), now)
	}
	if res.Status != channel.SendStatusSent {
		return e.retryOrFail(seq, fmt.Sprintf("send on %s: %s", step.Channel, res.Status), now)
	}

	seq.RetryCount = 0
	e.record(seq, "sent", string(step.Channel), now)
	e.advance(seq, now, now)
	return nil
}

func (e *SequenceEngine) runDecision(ctx context.Context, seq *SequenceInstance, step Step, now time.Time) error {
	if len(step.Options) == 0 {
		e.failSeq(seq, "decision step without options", now)
		return nil
	}
	lead, err := e.lead.GetProfile(ctx, seq.WorkspaceID, seq.LeadID)
	if err != nil {
		return e.retryOrFail(seq, fmt.Sprintf("lead lookup: %v", err), now)
	}
	d, err := e.engine.Decide(ctx,
		autonomy.DecisionContext{WorkspaceID: seq.WorkspaceID, Lead: &lead},
		step.Options,
		autonomy.Constraints{MaxAttempts: maxStepRetries + 1, CurrentAttempts: seq.RetryCount})
	if err != nil {
		return e.retryOrFail(seq, fmt.Sprintf("decision: %v", err), now)
	}

	detail, _ := json.Marshal(d)
	if d.Stop {
		e.record(seq, "deferred", string(detail), now)
	} else {
		e.record(seq, "decided", string(detail), now)
	}
	seq.RetryCount = 0
	e.advance(seq, now, now)
	return nil
}

func (e *SequenceEngine) runTask(ctx context.Context, seq *SequenceInstance, step Step, now time.Time) error {
	task := map[string]any{
		"id":          uuid.NewString(),
		"sequence_id": seq.ID,
		"lead_id":     seq.LeadID,
		"note":        step.TaskNote,
		"status":      "open",
		"created_at":  now,
	}
	if _, err := e.st.Put(ctx, seq.WorkspaceID, tasksCollection, task["id"].(string), task); err != nil {
		return e.retryOrFail(seq, fmt.Sprintf("task create: %v", err), now)
	}
	e.record(seq, "task_created", step.TaskNote, now)
	e.advance(seq, now, now)
	return nil
}

// retryOrFail leaves the cursor in place and backs off, failing the whole
// instance once the retry ceiling is hit.
func (e *SequenceEngine) retryOrFail(seq *SequenceInstance, detail string, now time.Time) error {
	seq.RetryCount++
	if seq.RetryCount > maxStepRetries {
		e.failSeq(seq, detail, now)
		return nil
	}
	e.record(seq, "failed", detail, now)
	due := now.Add(retryBackoff)
	seq.NextDueAt = &due
	seq.UpdatedAt = now
	e.log.Warn("sequence step failed, retrying",
		"workspace_id", seq.WorkspaceID, "sequence_id", seq.ID,
		"cursor", seq.Cursor, "retry", seq.RetryCount, "detail", detail)
	return nil
}

func (e *SequenceEngine) advance(seq *SequenceInstance, now, due time.Time) {
	seq.Cursor++
	if seq.Cursor >= len(seq.Steps) {
		e.complete(seq, now)
		return
	}
	seq.NextDueAt = &due
	seq.UpdatedAt = now
}

func (e *SequenceEngine) complete(seq *SequenceInstance, now time.Time) {
	seq.Status = SequenceCompleted
	seq.NextDueAt = nil
	seq.UpdatedAt = now
}

func (e *SequenceEngine) failSeq(seq *SequenceInstance, reason string, now time.Time) {
	seq.Status = SequenceFailed
	seq.FailReason = reason
	seq.NextDueAt = nil
	seq.UpdatedAt = now
}

func (e *SequenceEngine) record(seq *SequenceInstance, status, detail string, now time.Time) {
	seq.Results = append(seq.Results, StepResult{
		Index:  seq.Cursor,
		Status: status,
		Detail: detail,
		At:     now,
	})
}

// renderTemplate fills the handful of merge fields templates may use.
func renderTemplate(tmpl string, lead leads.Profile) string {
	r := strings.NewReplacer(
		"{{name}}", lead.Name,
		"{{email}}", lead.Email,
	)
	return r.Replace(tmpl)
}
