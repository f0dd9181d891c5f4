package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autopilot-platform/internal/audit"
	"autopilot-platform/internal/campaigns"
	"autopilot-platform/internal/provider"
	"autopilot-platform/internal/store"

	"github.com/google/uuid"
)

const (
	countersCollection  = "counters"
	variantsCollection  = "content_variants"
	plannedCollection   = "planned_actions"
	decisionsCollection = "decisions"

	// defaultDailyAttempts caps autonomous executions per owner per day.
	defaultDailyAttempts = 10

	// variantCandidates is how many alternatives one content-variation
	// run asks the model for.
	variantCandidates = 3
)

// Orchestrator runs the full autonomous loop for a workspace:
// detect -> authorize -> decide -> execute or suggest -> audit.
//
// Processing failures are confined to the single campaign or opportunity;
// the sweep always completes.
type Orchestrator struct {
	campaigns   campaigns.Repository
	detector    *Detector
	gate        *Gate
	engine      *Engine
	learner     *Learner
	suggestions *SuggestionService
	audit       *audit.Service
	gen         provider.TextGenerator
	st          store.Store

	dailyAttempts int
	log           *slog.Logger
	clock         func() time.Time
}

type OrchestratorConfig struct {
	Campaigns   campaigns.Repository
	Detector    *Detector
	Gate        *Gate
	Engine      *Engine
	Learner     *Learner
	Suggestions *SuggestionService
	Audit       *audit.Service
	Generator   provider.TextGenerator
	Store       store.Store

	// DailyAttempts overrides the per-owner execution budget.
	DailyAttempts int
	Log           *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	attempts := cfg.DailyAttempts
	if attempts <= 0 {
		attempts = defaultDailyAttempts
	}
	return &Orchestrator{
		campaigns:     cfg.Campaigns,
		detector:      cfg.Detector,
		gate:          cfg.Gate,
		engine:        cfg.Engine,
		learner:       cfg.Learner,
		suggestions:   cfg.Suggestions,
		audit:         cfg.Audit,
		gen:           cfg.Generator,
		st:            cfg.Store,
		dailyAttempts: attempts,
		log:           log,
		clock:         time.Now,
	}
}

// SweepReport summarizes one lifecycle sweep.
type SweepReport struct {
	Campaigns int `json:"campaigns"`
	Detected  int `json:"detected"`
	Executed  int `json:"executed"`
	Suggested int `json:"suggested"`
	Deferred  int `json:"deferred"`
}

// RunSweep processes every active campaign owned by ownerID.
func (o *Orchestrator) RunSweep(ctx context.Context, workspaceID, ownerID string, simulated bool) (SweepReport, error) {
	if workspaceID == "" || ownerID == "" {
		return SweepReport{}, ErrValidation
	}
	active, err := o.campaigns.ListActiveCampaigns(ctx, workspaceID)
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	report.Campaigns = len(active)
	for _, c := range active {
		opps, err := o.detector.Detect(ctx, workspaceID, c.ID)
		if err != nil {
			// One campaign's bad data must not halt the sweep.
			o.log.Warn("opportunity detection failed", "workspace_id", workspaceID, "campaign_id", c.ID, "err", err)
			continue
		}
		report.Detected += len(opps)

		for _, opp := range opps {
			outcome := o.handleOpportunity(ctx, workspaceID, ownerID, opp, simulated)
			switch outcome {
			case sweepExecuted:
				report.Executed++
			case sweepSuggested:
				report.Suggested++
			case sweepDeferred:
				report.Deferred++
			}
		}
	}
	return report, nil
}

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepExecuted
	sweepSuggested
	sweepDeferred
)

func (o *Orchestrator) handleOpportunity(ctx context.Context, workspaceID, ownerID string, opp Opportunity, simulated bool) sweepOutcome {
	req := ActionRequest{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		OwnerID:     ownerID,
		Action:      opp.Type,
		CampaignID:  opp.CampaignID,
		Payload:     payloadFromMetrics(opp),
		Simulated:   simulated,
		CreatedAt:   o.clock().UTC(),
	}

	if !o.gate.IsAuthorized(ctx, workspaceID, ownerID, req.Action) {
		if _, err := o.suggestions.CreateFromDenied(ctx, req, opp.Description); err != nil {
			o.log.Warn("suggestion creation failed", "workspace_id", workspaceID, "err", err)
			return sweepSkipped
		}
		return sweepSuggested
	}

	attempts, err := o.currentAttempts(ctx, workspaceID, ownerID)
	if err != nil {
		o.log.Warn("attempt counter read failed, deferring", "workspace_id", workspaceID, "err", err)
		return sweepDeferred
	}

	bucket := ContextBucket("", 0)
	ev := o.learner.ExpectedValue(ctx, workspaceID, bucket, opp.Type)
	decision, err := o.engine.Decide(ctx,
		DecisionContext{WorkspaceID: workspaceID, CampaignID: opp.CampaignID},
		[]Option{{Action: opp.Type, ExpectedValue: ev, Payload: req.Payload}},
		Constraints{MaxAttempts: o.dailyAttempts, CurrentAttempts: int(attempts)})
	if err != nil {
		o.log.Warn("decision failed", "workspace_id", workspaceID, "err", err)
		return sweepSkipped
	}

	detail, _ := json.Marshal(decision)
	if decision.Stop {
		_ = o.audit.RecordDecision(ctx, workspaceID, decision.ID, string(opp.Type), "deferred: "+decision.Rationale, string(detail), simulated)
		return sweepDeferred
	}

	// Persist the decision so later outcome reports can close the loop.
	if _, err := o.st.Put(ctx, workspaceID, decisionsCollection, decision.ID, decision); err != nil {
		o.log.Warn("decision persist failed", "workspace_id", workspaceID, "err", err)
	}

	if err := o.execute(ctx, req, opp, decision); err != nil {
		o.log.Warn("action execution failed", "workspace_id", workspaceID, "action", string(req.Action), "err", err)
		_ = o.audit.RecordDecision(ctx, workspaceID, decision.ID, string(opp.Type), "execution failed: "+err.Error(), string(detail), simulated)
		return sweepDeferred
	}

	if !simulated {
		if _, err := o.st.Increment(ctx, workspaceID, countersCollection, attemptKey(ownerID, o.clock()), "count", 1); err != nil {
			o.log.Warn("attempt counter bump failed", "workspace_id", workspaceID, "err", err)
		}
	}
	_ = o.audit.RecordAction(ctx, workspaceID, string(req.Action), opp.Description, string(detail), opp.CampaignID, "", simulated, false)
	return sweepExecuted
}

func (o *Orchestrator) currentAttempts(ctx context.Context, workspaceID, ownerID string) (int64, error) {
	// Increment by zero reads the counter while creating it lazily.
	return o.st.Increment(ctx, workspaceID, countersCollection, attemptKey(ownerID, o.clock()), "count", 0)
}

func attemptKey(ownerID string, now time.Time) string {
	return fmt.Sprintf("attempts:%s:%s", ownerID, now.UTC().Format("2006-01-02"))
}

// execute applies the decided action. Simulated requests skip external
// effects but still persist what would have happened.
func (o *Orchestrator) execute(ctx context.Context, req ActionRequest, opp Opportunity, d Decision) error {
	switch req.Action {
	case ActionContentVariation:
		return o.executeContentVariation(ctx, req, opp, d)
	default:
		// Schedule adjustments, test creation and the high-risk actions
		// become planned-action documents applied by the campaign service.
		return o.persistPlanned(ctx, req, d)
	}
}

func (o *Orchestrator) executeContentVariation(ctx context.Context, req ActionRequest, opp Opportunity, d Decision) error {
	prompt := fmt.Sprintf(
		"Write %d numbered subject line and preview text variations for a campaign whose click-to-open dropped %.1f%%. Keep the brand voice. End with a line naming the strongest, like \"best: variation <n>\".",
		variantCandidates, -opp.Metrics["percent_change"])

	var text string
	if req.Simulated {
		text = "(simulated) " + prompt
	} else {
		res, err := o.gen.Generate(ctx, provider.Request{
			Prompt:      prompt,
			MaxTokens:   512,
			Temperature: 0.8,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProcessing, err)
		}
		text = res.Text
	}

	doc := map[string]any{
		"request_id":  req.ID,
		"decision_id": d.ID,
		"campaign_id": req.CampaignID,
		"text":        text,
		"simulated":   req.Simulated,
		"created_at":  o.clock().UTC(),
	}
	// A parse miss stores the candidates without a selection and leaves the
	// pick to a human; it is never treated as "use the first one".
	if pick, ok := provider.ParseChoice(text, variantCandidates); ok {
		doc["selected_option"] = pick.Index
		doc["selection_confidence"] = pick.Confidence
	}
	_, err := o.st.Put(ctx, req.WorkspaceID, variantsCollection, req.ID, doc)
	return err
}

func (o *Orchestrator) persistPlanned(ctx context.Context, req ActionRequest, d Decision) error {
	doc := map[string]any{
		"request_id":  req.ID,
		"decision_id": d.ID,
		"action":      req.Action,
		"campaign_id": req.CampaignID,
		"payload":     req.Payload,
		"simulated":   req.Simulated,
		"created_at":  o.clock().UTC(),
	}
	_, err := o.st.Put(ctx, req.WorkspaceID, plannedCollection, req.ID, doc)
	return err
}

// RecordOutcome folds an observed outcome for a stored decision back into
// the learner and returns the updated expected value.
func (o *Orchestrator) RecordOutcome(ctx context.Context, workspaceID string, out Outcome) (float64, error) {
	if workspaceID == "" || out.DecisionID == "" {
		return 0, ErrValidation
	}
	doc, err := o.st.Get(ctx, workspaceID, decisionsCollection, out.DecisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	var d Decision
	if err := doc.Decode(&d); err != nil {
		return 0, err
	}

	ev, err := o.learner.Update(ctx, d, out)
	if err != nil {
		return 0, err
	}
	detail, _ := json.Marshal(map[string]any{
		"signal":         out.Signal,
		"success":        out.Success,
		"expected_value": ev,
	})
	_ = o.audit.RecordDecision(ctx, workspaceID, d.ID, string(d.Action),
		"outcome recorded", string(detail), false)
	return ev, nil
}

// ExecuteApproved runs a user-accepted suggestion. Explicit approval
// substitutes for the permission gate; approved actions do not count
// against the autonomous attempt budget.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, sug Suggestion, userID string) error {
	if sug.WorkspaceID == "" || sug.Action == "" {
		return ErrValidation
	}
	now := o.clock().UTC()
	req := ActionRequest{
		ID:          uuid.NewString(),
		WorkspaceID: sug.WorkspaceID,
		OwnerID:     sug.OwnerID,
		Action:      sug.Action,
		CampaignID:  sug.CampaignID,
		LeadID:      sug.LeadID,
		Payload:     sug.Payload,
		CreatedAt:   now,
	}
	chosen := Option{Action: sug.Action, Payload: sug.Payload}
	d := Decision{
		ID:            uuid.NewString(),
		WorkspaceID:   sug.WorkspaceID,
		Action:        sug.Action,
		Chosen:        &chosen,
		Considered:    []Option{chosen},
		Rationale:     "user approved suggestion " + sug.ID,
		ContextBucket: ContextBucket("", 0),
		CreatedAt:     now,
	}
	opp := Opportunity{
		Type:        sug.Action,
		CampaignID:  sug.CampaignID,
		Description: sug.Title,
		Metrics:     metricsFromPayload(sug.Payload),
	}

	if err := o.execute(ctx, req, opp, d); err != nil {
		return err
	}
	if _, err := o.st.Put(ctx, sug.WorkspaceID, decisionsCollection, d.ID, d); err != nil {
		o.log.Warn("decision persist failed", "workspace_id", sug.WorkspaceID, "err", err)
	}
	detail, _ := json.Marshal(map[string]any{"suggestion_id": sug.ID, "decision_id": d.ID, "user_id": userID})
	_ = o.audit.RecordAction(ctx, sug.WorkspaceID, string(sug.Action),
		"approved suggestion executed: "+sug.Title, string(detail), sug.CampaignID, sug.LeadID, false, true)
	return nil
}

func metricsFromPayload(payload map[string]any) map[string]float64 {
	out := make(map[string]float64, len(payload))
	for k, v := range payload {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

func payloadFromMetrics(opp Opportunity) map[string]any {
	out := make(map[string]any, len(opp.Metrics))
	for k, v := range opp.Metrics {
		out[k] = v
	}
	return out
}
