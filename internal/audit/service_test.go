package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresWorkspaceActorType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Record{Actor: ActorAutonomous, ActionType: "escalation"}); err == nil {
		t.Fatalf("expected error for missing workspace_id")
	}
	if err := svc.Append(context.Background(), Record{WorkspaceID: "w", ActionType: "escalation"}); err == nil {
		t.Fatalf("expected error for missing actor")
	}
	if err := svc.Append(context.Background(), Record{WorkspaceID: "w", Actor: ActorAutonomous}); err == nil {
		t.Fatalf("expected error for missing action_type")
	}
}

func TestService_AppendsImmutableRecords(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.RecordAction(context.Background(), "w", "content_variation", "generated subject line variant", `{"variant":2}`, "camp1", "", false, false)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if recs[0].Actor != ActorAutonomous {
		t.Fatalf("expected autonomous actor, got %q", recs[0].Actor)
	}
	if recs[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at stamped")
	}
}

func TestService_SimulationFlagPreserved(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.RecordDecision(context.Background(), "w", "d1", "schedule_adjustment", "moved send to Tue 10:00", "{}", true); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	recs := repo.Records()
	if !recs[0].Simulated {
		t.Fatalf("expected simulated flag set")
	}
	if recs[0].DecisionID != "d1" {
		t.Fatalf("expected decision reference, got %q", recs[0].DecisionID)
	}
}

func TestService_ListNewestFirstScopedToWorkspace(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	_ = svc.RecordAction(context.Background(), "w1", "a", "first", "", "", "", false, false)
	_ = svc.RecordAction(context.Background(), "w1", "b", "second", "", "", "", false, false)
	_ = svc.RecordAction(context.Background(), "w2", "c", "other tenant", "", "", "", false, false)

	recs, err := svc.List(context.Background(), "w1", 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ActionType != "b" {
		t.Fatalf("expected newest first, got %q", recs[0].ActionType)
	}
}
