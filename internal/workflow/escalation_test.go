package workflow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"autopilot-platform/internal/channel"
	"autopilot-platform/internal/leads"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testEscalator(now time.Time) *Escalator {
	e := NewEscalator()
	e.clock = func() time.Time { return now }
	return e
}

func fullLead() leads.Profile {
	return leads.Profile{
		ID:             "lead-1",
		WorkspaceID:    "w",
		Name:           "Dana",
		Email:          "dana@example.com",
		Phone:          "+15551230000",
		LinkedInHandle: "dana-r",
		Consent: map[channel.Channel]bool{
			channel.ChannelEmail:    true,
			channel.ChannelLinkedIn: true,
			channel.ChannelPhone:    true,
		},
		Preferences: leads.Preferences{
			ChannelPriorities: []channel.Channel{channel.ChannelEmail, channel.ChannelLinkedIn, channel.ChannelPhone},
			ResponseWindow:    48 * time.Hour,
		},
	}
}

func pendingInstance(lead leads.Profile) Instance {
	return Instance{
		ID:             "wf-1",
		WorkspaceID:    "w",
		LeadID:         lead.ID,
		Objective:      ObjectiveConversion,
		Status:         StatusPending,
		ResponseWindow: lead.Preferences.ResponseWindow,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func TestEscalator_WalksChannelPriorityThenFails(t *testing.T) {
	e := testEscalator(testNow)
	lead := fullLead()
	inst := pendingInstance(lead)

	if err := e.Start(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if inst.Status != StatusContacted || inst.CurrentChannel != channel.ChannelEmail {
		t.Fatalf("expected contacted on email, got %s/%s", inst.Status, inst.CurrentChannel)
	}
	wantDue := testNow.Add(48 * time.Hour)
	if inst.NextDueAt == nil || !inst.NextDueAt.Equal(wantDue) {
		t.Fatalf("expected due at %v, got %v", wantDue, inst.NextDueAt)
	}

	// First timeout: the hop lands on linkedin and loops back to contacted.
	if err := e.Escalate(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if inst.Status != StatusContacted || inst.CurrentChannel != channel.ChannelLinkedIn {
		t.Fatalf("expected contacted on linkedin, got %s/%s", inst.Status, inst.CurrentChannel)
	}
	if inst.EscalationCount != 1 {
		t.Fatalf("expected escalation count 1, got %d", inst.EscalationCount)
	}

	// Second timeout: phone is the last resort.
	if err := e.Escalate(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if inst.Status != StatusContacted || inst.CurrentChannel != channel.ChannelPhone {
		t.Fatalf("expected contacted on phone, got %s/%s", inst.Status, inst.CurrentChannel)
	}

	// Third timeout: exhausted.
	if err := e.Escalate(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if inst.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", inst.Status)
	}
	if inst.FailReason != "all channels exhausted" {
		t.Fatalf("unexpected fail reason %q", inst.FailReason)
	}
	if inst.NextDueAt != nil {
		t.Fatalf("terminal instance must not be due")
	}

	// Each channel was attempted exactly once.
	want := []channel.Channel{channel.ChannelEmail, channel.ChannelLinkedIn, channel.ChannelPhone}
	if len(inst.AttemptedChannels) != len(want) {
		t.Fatalf("expected %d attempts, got %v", len(want), inst.AttemptedChannels)
	}
	for i, ch := range want {
		if inst.AttemptedChannels[i] != ch {
			t.Fatalf("expected attempt %d on %s, got %s", i, ch, inst.AttemptedChannels[i])
		}
	}
}

func TestEscalator_SkipsChannelsWithoutConsentOrContactPoint(t *testing.T) {
	e := testEscalator(testNow)
	lead := fullLead()
	lead.Consent[channel.ChannelEmail] = false // opted out
	lead.LinkedInHandle = ""                   // unreachable

	inst := pendingInstance(lead)
	if err := e.Start(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if inst.CurrentChannel != channel.ChannelPhone {
		t.Fatalf("expected phone as only usable channel, got %s", inst.CurrentChannel)
	}
}

func TestEscalator_NoReachableChannelFailsImmediately(t *testing.T) {
	e := testEscalator(testNow)
	lead := fullLead()
	lead.Consent = nil // no explicit consent anywhere fails closed

	inst := pendingInstance(lead)
	if err := e.Start(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if inst.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", inst.Status)
	}
}

func TestEscalator_ResponseAndConversion(t *testing.T) {
	e := testEscalator(testNow)
	lead := fullLead()

	cases := []struct {
		sentiment Sentiment
		want      Status
	}{
		{SentimentPositive, StatusConverted},
		{SentimentNegative, StatusFailed},
		{SentimentNeutral, StatusResponded},
	}
	for _, tc := range cases {
		inst := pendingInstance(lead)
		if err := e.Start(&inst, lead); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if err := e.EvaluateResponse(&inst, Response{Sentiment: tc.sentiment, ReceivedAt: testNow}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if inst.Status != StatusResponded {
			t.Fatalf("expected responded, got %s", inst.Status)
		}
		if err := e.CheckConversion(&inst); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if inst.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.sentiment, tc.want, inst.Status)
		}
	}
}

func TestEscalator_ResponseOnEscalatedChannel(t *testing.T) {
	e := testEscalator(testNow)
	lead := fullLead()
	inst := pendingInstance(lead)

	if err := e.Start(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := e.Escalate(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := e.EvaluateResponse(&inst, Response{Sentiment: SentimentPositive}); err != nil {
		t.Fatalf("expected response accepted after escalation: %v", err)
	}
	if inst.Status != StatusResponded {
		t.Fatalf("expected responded, got %s", inst.Status)
	}

	// A document persisted mid-hop still carries the escalated status; both
	// a response and a further escalation are accepted from it.
	midHop := pendingInstance(lead)
	if err := e.Start(&midHop, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	midHop.Status = StatusEscalated
	if err := e.EvaluateResponse(&midHop, Response{Sentiment: SentimentNeutral}); err != nil {
		t.Fatalf("expected response accepted mid-hop: %v", err)
	}
}

func TestEscalator_InvalidTransitions(t *testing.T) {
	e := testEscalator(testNow)
	lead := fullLead()

	inst := pendingInstance(lead)
	if err := e.EvaluateResponse(&inst, Response{Sentiment: SentimentPositive}); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected bad transition for response while pending, got %v", err)
	}

	inst.Status = StatusFailed
	if err := e.Escalate(&inst, lead); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if err := e.EvaluateResponse(&inst, Response{}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestInstance_SurvivesSerializationMidFlight(t *testing.T) {
	e := testEscalator(testNow)
	lead := fullLead()
	inst := pendingInstance(lead)

	if err := e.Start(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := e.Escalate(&inst, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	raw, err := json.Marshal(inst)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	var restored Instance
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// The restored instance continues where the original stopped: linkedin
	// was the active channel, so the next escalation lands on phone.
	if err := e.Escalate(&restored, lead); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if restored.CurrentChannel != channel.ChannelPhone {
		t.Fatalf("expected phone after restore, got %s", restored.CurrentChannel)
	}
	if restored.EscalationCount != 2 {
		t.Fatalf("expected escalation count 2, got %d", restored.EscalationCount)
	}
}
