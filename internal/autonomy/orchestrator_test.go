package autonomy

import (
	"context"
	"testing"

	"autopilot-platform/internal/audit"
	"autopilot-platform/internal/campaigns"
	"autopilot-platform/internal/provider"
	"autopilot-platform/internal/store"
)

type stubGenerator struct {
	res provider.Result
	err error
	n   int
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) Generate(ctx context.Context, req provider.Request) (provider.Result, error) {
	s.n++
	return s.res, s.err
}

func newTestOrchestrator(t *testing.T, tier Tier) (*Orchestrator, *campaigns.MemoryRepo, *audit.MemoryRepo, store.Store, *stubGenerator) {
	t.Helper()
	st := store.NewMemory()
	repo := snapshotsWithRatios("c1", 0.28, 0.28, 0.28, 0.40, 0.40, 0.40)

	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)

	profiles := NewStoreProfiles(st)
	if err := profiles.PutProfile(context.Background(), PermissionProfile{WorkspaceID: "w", OwnerID: "o", Tier: tier}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	gen := &stubGenerator{res: provider.Result{Text: "fresh subject line", OutputTokens: 4}}
	orc := NewOrchestrator(OrchestratorConfig{
		Campaigns:   repo,
		Detector:    NewDetector(repo),
		Gate:        NewGate(profiles, nil),
		Engine:      NewEngine(nil),
		Learner:     NewLearner(NewStoreLearning(st), DefaultLearningRate),
		Suggestions: NewSuggestionService(st, auditSvc),
		Audit:       auditSvc,
		Generator:   gen,
		Store:       st,
	})
	return orc, repo, auditRepo, st, gen
}

func TestOrchestrator_DeniedActionBecomesSuggestion(t *testing.T) {
	// suggest_only may execute nothing; every opportunity becomes a suggestion.
	orc, _, auditRepo, st, gen := newTestOrchestrator(t, TierSuggestOnly)

	report, err := orc.RunSweep(context.Background(), "w", "o", false)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if report.Executed != 0 {
		t.Fatalf("expected no executions, got %d", report.Executed)
	}
	if report.Suggested == 0 {
		t.Fatalf("expected suggestions, got %+v", report)
	}
	if gen.n != 0 {
		t.Fatalf("expected no provider calls for denied actions")
	}

	sugs := NewSuggestionService(st, nil)
	pending, err := sugs.List(context.Background(), "w", SuggestionPending)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(pending) != report.Suggested {
		t.Fatalf("expected %d pending suggestions, got %d", report.Suggested, len(pending))
	}

	// Transparency: every denial leaves an audit record.
	if len(auditRepo.Records()) < report.Suggested {
		t.Fatalf("expected audit records for suggestions")
	}
}

func TestOrchestrator_LowTierExecutesOnlyLowRisk(t *testing.T) {
	orc, _, _, st, gen := newTestOrchestrator(t, TierLow)

	report, err := orc.RunSweep(context.Background(), "w", "o", false)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// The decline snapshot fires content_variation (low risk, executed) and
	// at least one medium-risk opportunity (suggested).
	if report.Executed != 1 {
		t.Fatalf("expected exactly one execution, got %+v", report)
	}
	if report.Suggested == 0 {
		t.Fatalf("expected medium-risk opportunities suggested, got %+v", report)
	}
	if gen.n != 1 {
		t.Fatalf("expected one provider call, got %d", gen.n)
	}

	// The generated variant is persisted.
	docs, err := st.List(context.Background(), "w", variantsCollection)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one stored variant, got %d", len(docs))
	}
}

func TestOrchestrator_SimulationSkipsProviderAndCounter(t *testing.T) {
	orc, _, auditRepo, st, gen := newTestOrchestrator(t, TierHigh)

	report, err := orc.RunSweep(context.Background(), "w", "o", true)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if report.Executed == 0 {
		t.Fatalf("expected simulated executions, got %+v", report)
	}
	if gen.n != 0 {
		t.Fatalf("expected no provider calls in simulation, got %d", gen.n)
	}

	// Attempt counter untouched in simulation.
	n, err := st.Increment(context.Background(), "w", countersCollection, attemptKey("o", orc.clock()), "count", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero attempts recorded, got %d", n)
	}

	// Audit still captures the simulated actions.
	var simulated int
	for _, r := range auditRepo.Records() {
		if r.Simulated {
			simulated++
		}
	}
	if simulated == 0 {
		t.Fatalf("expected simulated audit records")
	}
}

func TestOrchestrator_AttemptBudgetDefers(t *testing.T) {
	orc, _, _, st, _ := newTestOrchestrator(t, TierHigh)
	orc.dailyAttempts = 2

	// Pre-spend the budget.
	if _, err := st.Increment(context.Background(), "w", countersCollection, attemptKey("o", orc.clock()), "count", 2); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	report, err := orc.RunSweep(context.Background(), "w", "o", false)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if report.Executed != 0 {
		t.Fatalf("expected no executions past the budget, got %+v", report)
	}
	if report.Deferred == 0 {
		t.Fatalf("expected deferrals, got %+v", report)
	}
}

func TestOrchestrator_VariantChoiceParsedFromGeneratedText(t *testing.T) {
	orc, _, _, st, gen := newTestOrchestrator(t, TierLow)
	gen.res = provider.Result{Text: "1. Spring refresh\n2. Last chance\n3. New look\nbest: variation 2"}

	if _, err := orc.RunSweep(context.Background(), "w", "o", false); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	docs, err := st.List(context.Background(), "w", variantsCollection)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one stored variant, got %d", len(docs))
	}
	var doc map[string]any
	if err := docs[0].Decode(&doc); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if doc["selected_option"] != float64(2) {
		t.Fatalf("expected variation 2 selected, got %v", doc["selected_option"])
	}
	if doc["selection_confidence"] != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", doc["selection_confidence"])
	}
}

func TestOrchestrator_UnparseableVariantTextLeavesSelectionOpen(t *testing.T) {
	orc, _, _, st, gen := newTestOrchestrator(t, TierLow)
	gen.res = provider.Result{Text: "a few ideas, none clearly strongest"}

	if _, err := orc.RunSweep(context.Background(), "w", "o", false); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	docs, err := st.List(context.Background(), "w", variantsCollection)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one stored variant, got %d", len(docs))
	}
	var doc map[string]any
	if err := docs[0].Decode(&doc); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok := doc["selected_option"]; ok {
		t.Fatalf("expected no selection for unparseable text, got %v", doc["selected_option"])
	}
}

func TestOrchestrator_ExecuteApprovedRunsAndAudits(t *testing.T) {
	orc, _, auditRepo, st, gen := newTestOrchestrator(t, TierSuggestOnly)

	sug := Suggestion{
		ID:          "sug-1",
		WorkspaceID: "w",
		OwnerID:     "o",
		Action:      ActionContentVariation,
		CampaignID:  "c1",
		Title:       "refresh the subject line",
		Payload:     map[string]any{"percent_change": -30.0},
		Status:      SuggestionAccepted,
	}
	if err := orc.ExecuteApproved(context.Background(), sug, "user-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if gen.n != 1 {
		t.Fatalf("expected one provider call, got %d", gen.n)
	}
	docs, err := st.List(context.Background(), "w", variantsCollection)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one stored variant, got %d", len(docs))
	}

	var approved int
	for _, r := range auditRepo.Records() {
		if r.Approved {
			approved++
		}
	}
	if approved != 1 {
		t.Fatalf("expected one approved audit record, got %d", approved)
	}

	// Attempt budget is for autonomous executions only.
	n, err := st.Increment(context.Background(), "w", countersCollection, attemptKey("o", orc.clock()), "count", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero attempts recorded, got %d", n)
	}
}

func TestOrchestrator_RecordOutcomeMovesExpectedValue(t *testing.T) {
	orc, _, _, st, _ := newTestOrchestrator(t, TierSuggestOnly)

	sug := Suggestion{
		ID:          "sug-2",
		WorkspaceID: "w",
		OwnerID:     "o",
		Action:      ActionContentVariation,
		CampaignID:  "c1",
		Title:       "refresh the subject line",
		Status:      SuggestionAccepted,
	}
	if err := orc.ExecuteApproved(context.Background(), sug, "user-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	docs, err := st.List(context.Background(), "w", decisionsCollection)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one stored decision, got %d", len(docs))
	}
	var d Decision
	if err := docs[0].Decode(&d); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	ev, err := orc.RecordOutcome(context.Background(), "w", Outcome{
		DecisionID: d.ID,
		Success:    true,
		Signal:     "conversion",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// 0.5 + 0.2*(1.0-0.5)
	if ev != 0.6 {
		t.Fatalf("expected 0.6, got %v", ev)
	}

	got := orc.learner.ExpectedValue(context.Background(), "w", d.ContextBucket, d.Action)
	if got != 0.6 {
		t.Fatalf("expected persisted 0.6, got %v", got)
	}

	if _, err := orc.RecordOutcome(context.Background(), "w", Outcome{DecisionID: "ghost", Success: true}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
