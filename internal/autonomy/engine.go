package autonomy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autopilot-platform/internal/leads"

	"github.com/google/uuid"
)

// Engine selects one action among competing options, or defers.
//
// Selection rules, in order:
//  1. Attempt budget: currentAttempts >= maxAttempts is a terminal stop,
//     regardless of expected values.
//  2. Highest expected value wins; ties break by declared order (first
//     listed wins) so results are deterministic.
//  3. Ethical pre-check: an option that would message a lead on a channel
//     without explicit opt-in is denied; the engine falls through to the
//     next-best option, or stops when none remain.
//
// The engine never mutates expected values; that is the Learner's job.
type Engine struct {
	log   *slog.Logger
	clock func() time.Time
}

func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log, clock: time.Now}
}

// DecisionContext carries the situation the decision is made in.
type DecisionContext struct {
	WorkspaceID string
	CampaignID  string

	// Lead is set when options would contact a specific lead; consent is
	// checked against it.
	Lead *leads.Profile

	// Industry/Employees drive learning-context bucketing. When Lead is
	// set its firmographics win.
	Industry  string
	Employees int
}

func (c DecisionContext) bucket() string {
	if c.Lead != nil {
		return ContextBucket(c.Lead.Industry, c.Lead.Employees)
	}
	return ContextBucket(c.Industry, c.Employees)
}

// Decide returns a Decision; the error return is reserved for validation
// failures. Internal failures produce a stop decision with a logged
// warning so scheduled callers never crash on one bad instance.
func (e *Engine) Decide(ctx context.Context, dctx DecisionContext, options []Option, constraints Constraints) (Decision, error) {
	if constraints.MaxAttempts <= 0 {
		return Decision{}, fmt.Errorf("%w: max_attempts must be positive", ErrValidation)
	}
	if constraints.CurrentAttempts < 0 {
		return Decision{}, fmt.Errorf("%w: current_attempts cannot be negative", ErrValidation)
	}
	if dctx.WorkspaceID == "" {
		return Decision{}, fmt.Errorf("%w: workspace_id required", ErrValidation)
	}

	d := Decision{
		ID:            uuid.NewString(),
		WorkspaceID:   dctx.WorkspaceID,
		Considered:    append([]Option(nil), options...),
		Constraints:   constraints,
		ContextBucket: dctx.bucket(),
		CreatedAt:     e.clock().UTC(),
	}

	if constraints.CurrentAttempts >= constraints.MaxAttempts {
		d.Stop = true
		d.Rationale = fmt.Sprintf("attempt budget exhausted (%d/%d)", constraints.CurrentAttempts, constraints.MaxAttempts)
		return d, nil
	}
	if len(options) == 0 {
		d.Stop = true
		d.Rationale = "no options offered"
		return d, nil
	}

	remaining := append([]Option(nil), options...)
	for len(remaining) > 0 {
		idx := bestOption(remaining)
		candidate := remaining[idx]

		if denied, reason := e.checkEthicalBoundaries(candidate, dctx.Lead); denied {
			e.log.Info("option denied by ethical boundary",
				"workspace_id", dctx.WorkspaceID, "action", string(candidate.Action), "reason", reason)
			remaining = append(remaining[:idx], remaining[idx+1:]...)
			continue
		}

		chosen := candidate
		d.Action = chosen.Action
		d.Chosen = &chosen
		d.Rationale = fmt.Sprintf("highest expected value %.3f among %d options", chosen.ExpectedValue, len(options))
		return d, nil
	}

	d.Stop = true
	d.Rationale = "all options denied by ethical boundaries"
	return d, nil
}

// bestOption returns the index of the highest expected value; the strict
// comparison keeps the first-listed option on ties.
func bestOption(options []Option) int {
	best := 0
	for i := 1; i < len(options); i++ {
		if options[i].ExpectedValue > options[best].ExpectedValue {
			best = i
		}
	}
	return best
}

// checkEthicalBoundaries denies any option that would contact a lead on a
// channel without explicit opt-in. Campaign-level options (no channel)
// pass; a channel-bearing option with no lead profile fails closed.
func (e *Engine) checkEthicalBoundaries(o Option, lead *leads.Profile) (denied bool, reason string) {
	if o.Channel == "" {
		return false, ""
	}
	if lead == nil {
		return true, "channel action without lead profile"
	}
	if !lead.HasOptedIn(o.Channel) {
		return true, fmt.Sprintf("no opt-in on %s", o.Channel)
	}
	return false, ""
}
