package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"autopilot-platform/internal/autonomy"
	"autopilot-platform/internal/channel"
	"autopilot-platform/internal/leads"
	"autopilot-platform/internal/store"
)

func testSequenceEngine(t *testing.T, now time.Time) (*SequenceEngine, *channel.MemoryExecutor, store.Store) {
	t.Helper()
	st := store.NewMemory()
	src := leads.NewMemorySource()
	if err := src.PutProfile(context.Background(), fullLead()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	exec := channel.NewMemoryExecutor()
	eng := NewSequenceEngine(exec, src, autonomy.NewEngine(nil), st, nil)
	eng.clock = func() time.Time { return now }
	return eng, exec, st
}

func activeSequence(steps []Step) SequenceInstance {
	due := testNow
	return SequenceInstance{
		ID:          "seq-1",
		WorkspaceID: "w",
		LeadID:      "lead-1",
		Steps:       steps,
		Status:      SequenceActive,
		NextDueAt:   &due,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
}

func TestSequence_MessageWaitConditionalFollowUp(t *testing.T) {
	eng, exec, _ := testSequenceEngine(t, testNow)
	seq := activeSequence([]Step{
		{Type: StepMessage, Channel: channel.ChannelEmail, Subject: "Hello {{name}}", Template: "Hi {{name}}, quick intro."},
		{Type: StepWait, Delay: 48 * time.Hour},
		{Type: StepMessage, Channel: channel.ChannelEmail, Template: "Bumping this, {{name}}.", Condition: &StepCondition{Kind: CondNoResponse}},
	})

	// Step 0: intro message.
	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq.Cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", seq.Cursor)
	}
	sent := exec.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sent))
	}
	if sent[0].Recipient != "dana@example.com" {
		t.Fatalf("unexpected recipient %q", sent[0].Recipient)
	}
	if !strings.Contains(sent[0].Body, "Dana") {
		t.Fatalf("expected merge field rendered, got %q", sent[0].Body)
	}

	// Step 1: wait schedules the follow-up two days out.
	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	wantDue := testNow.Add(48 * time.Hour)
	if seq.NextDueAt == nil || !seq.NextDueAt.Equal(wantDue) {
		t.Fatalf("expected due %v, got %v", wantDue, seq.NextDueAt)
	}

	// Step 2: no response yet, so the bump goes out and the sequence ends.
	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(exec.Sent()) != 2 {
		t.Fatalf("expected two sends, got %d", len(exec.Sent()))
	}
	if seq.Status != SequenceCompleted {
		t.Fatalf("expected completed, got %s", seq.Status)
	}
	if seq.NextDueAt != nil {
		t.Fatalf("completed sequence must not be due")
	}
}

func TestSequence_ResponseSkipsConditionalStep(t *testing.T) {
	eng, exec, _ := testSequenceEngine(t, testNow)
	seq := activeSequence([]Step{
		{Type: StepMessage, Channel: channel.ChannelEmail, Template: "Hi {{name}}."},
		{Type: StepWait, Delay: 48 * time.Hour},
		{Type: StepMessage, Channel: channel.ChannelEmail, Template: "Bump.", Condition: &StepCondition{Kind: CondNoResponse}},
	})

	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	eng.RecordResponse(&seq, testNow.Add(time.Hour))

	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(exec.Sent()) != 1 {
		t.Fatalf("expected bump suppressed after response, got %d sends", len(exec.Sent()))
	}
	if seq.Status != SequenceCompleted {
		t.Fatalf("expected completed, got %s", seq.Status)
	}
	last := seq.Results[len(seq.Results)-1]
	if last.Status != "skipped" {
		t.Fatalf("expected skipped result, got %+v", last)
	}
}

func TestSequence_RetryCeilingFailsInstance(t *testing.T) {
	eng, exec, _ := testSequenceEngine(t, testNow)
	exec.Err = errors.New("relay unavailable")
	seq := activeSequence([]Step{
		{Type: StepMessage, Channel: channel.ChannelEmail, Template: "Hi."},
	})

	for i := 0; i < maxStepRetries; i++ {
		if err := eng.Advance(context.Background(), &seq); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if seq.Status != SequenceActive {
			t.Fatalf("attempt %d: expected still active, got %s", i, seq.Status)
		}
		if seq.Cursor != 0 {
			t.Fatalf("cursor must not move on failure, got %d", seq.Cursor)
		}
		if seq.NextDueAt == nil || !seq.NextDueAt.Equal(testNow.Add(retryBackoff)) {
			t.Fatalf("expected backoff due time, got %v", seq.NextDueAt)
		}
	}

	// Fourth failure breaches the ceiling.
	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq.Status != SequenceFailed {
		t.Fatalf("expected failed after retry ceiling, got %s", seq.Status)
	}
	if seq.NextDueAt != nil {
		t.Fatalf("failed sequence must not be due")
	}
}

func TestSequence_MissingConsentFailsWithoutRetry(t *testing.T) {
	eng, _, _ := testSequenceEngine(t, testNow)
	seq := activeSequence([]Step{
		{Type: StepMessage, Channel: channel.ChannelSMS, Template: "Hi."}, // no sms opt-in on the fixture
	})

	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq.Status != SequenceFailed {
		t.Fatalf("expected immediate failure, got %s", seq.Status)
	}
	if seq.RetryCount != 0 {
		t.Fatalf("consent failures must not be retried, got %d retries", seq.RetryCount)
	}
}

func TestSequence_PausedIsUntouched(t *testing.T) {
	eng, exec, _ := testSequenceEngine(t, testNow)
	seq := activeSequence([]Step{
		{Type: StepMessage, Channel: channel.ChannelEmail, Template: "Hi."},
	})
	seq.Status = SequencePaused

	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq.Cursor != 0 || len(exec.Sent()) != 0 {
		t.Fatalf("paused sequence must not progress: cursor=%d sends=%d", seq.Cursor, len(exec.Sent()))
	}
}

func TestSequence_TaskStepCreatesTaskDocument(t *testing.T) {
	eng, _, st := testSequenceEngine(t, testNow)
	seq := activeSequence([]Step{
		{Type: StepTask, TaskNote: "call Dana about renewal"},
	})

	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq.Status != SequenceCompleted {
		t.Fatalf("expected completed, got %s", seq.Status)
	}
	docs, err := st.List(context.Background(), "w", tasksCollection)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one task document, got %d", len(docs))
	}
}

func TestSequence_DecisionStepDelegates(t *testing.T) {
	eng, _, _ := testSequenceEngine(t, testNow)
	seq := activeSequence([]Step{
		{Type: StepDecision, Options: []autonomy.Option{
			{Action: autonomy.ActionScheduleAdjustment, ExpectedValue: 0.4},
			{Action: autonomy.ActionContentVariation, ExpectedValue: 0.7},
		}},
	})

	if err := eng.Advance(context.Background(), &seq); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq.Status != SequenceCompleted {
		t.Fatalf("expected completed, got %s", seq.Status)
	}
	last := seq.Results[len(seq.Results)-1]
	if last.Status != "decided" {
		t.Fatalf("expected decided result, got %+v", last)
	}
	if !strings.Contains(last.Detail, string(autonomy.ActionContentVariation)) {
		t.Fatalf("expected highest-value action in detail, got %q", last.Detail)
	}
}

func TestSequence_CursorNeverMovesBackward(t *testing.T) {
	eng, _, _ := testSequenceEngine(t, testNow)
	seq := activeSequence([]Step{
		{Type: StepTask, TaskNote: "a"},
		{Type: StepWait, Delay: time.Hour},
		{Type: StepTask, TaskNote: "b"},
	})

	prev := seq.Cursor
	for !seq.Terminal() {
		if err := eng.Advance(context.Background(), &seq); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if seq.Cursor < prev {
			t.Fatalf("cursor moved backward: %d -> %d", prev, seq.Cursor)
		}
		prev = seq.Cursor
	}
}
