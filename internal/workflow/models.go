package workflow

import (
	"time"

	"autopilot-platform/internal/autonomy"
	"autopilot-platform/internal/channel"
)

// Workflow and sequence instances are tenant-scoped and independently
// schedulable; all state transitions persist through conditional updates.

type Status string

const (
	StatusPending   Status = "pending"
	StatusContacted Status = "contacted"
	StatusResponded Status = "responded"
	// StatusEscalated marks an instance whose response window lapsed but
	// whose next-channel contact has not landed yet. A successful hop loops
	// back to StatusContacted; transitions accept both.
	StatusEscalated Status = "escalated"
	StatusConverted Status = "converted"
	StatusFailed    Status = "failed"
)

type Objective string

const (
	ObjectiveAwareness  Objective = "awareness"
	ObjectiveConversion Objective = "conversion"
)

// Instance tracks one lead's contact lifecycle across channels.
type Instance struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	LeadID      string `json:"lead_id"`

	Objective Objective `json:"objective"`
	Status    Status    `json:"status"`

	CurrentChannel channel.Channel `json:"current_channel,omitempty"`

	// AttemptedChannels only grows; a channel appears at most once.
	AttemptedChannels []channel.Channel `json:"attempted_channels,omitempty"`

	EscalationCount int `json:"escalation_count"`

	// LastSentiment is the most recent response classification; the
	// conversion check reads it.
	LastSentiment Sentiment `json:"last_sentiment,omitempty"`

	// ResponseWindow is captured from lead preferences at start so the
	// instance stays self-contained across restarts.
	ResponseWindow time.Duration `json:"response_window"`

	ContactedAt *time.Time `json:"contacted_at,omitempty"`

	// NextDueAt is the "due at time T" marker: the response timeout for
	// the current channel. Nil in terminal states.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	FailReason string `json:"fail_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the store document version; not part of the instance body.
	Version int64 `json:"-"`
}

func (i Instance) Terminal() bool {
	switch i.Status {
	case StatusConverted, StatusFailed:
		return true
	}
	return false
}

func (i Instance) HasAttempted(ch channel.Channel) bool {
	for _, a := range i.AttemptedChannels {
		if a == ch {
			return true
		}
	}
	return false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Response is an observed lead reaction delivered by the channel relay.
type Response struct {
	Sentiment  Sentiment `json:"sentiment"`
	ReceivedAt time.Time `json:"received_at"`
}

// --- Nurturing sequences ---

type StepType string

const (
	StepMessage  StepType = "message"
	StepWait     StepType = "wait"
	StepDecision StepType = "decision"
	StepTask     StepType = "task"
)

type ConditionKind string

const (
	CondNoResponse ConditionKind = "no_response"
	CondResponded  ConditionKind = "responded"
)

// StepCondition gates a step on accumulated context. A false condition
// skips the step without side effects.
type StepCondition struct {
	Kind ConditionKind `json:"kind"`
}

// Step is one declarative element of a nurturing sequence.
type Step struct {
	Type StepType `json:"type"`

	// Message steps.
	Channel  channel.Channel `json:"channel,omitempty"`
	Template string          `json:"template,omitempty"`
	Subject  string          `json:"subject,omitempty"`

	// Wait steps.
	Delay time.Duration `json:"delay,omitempty"`

	// Decision steps.
	Options []autonomy.Option `json:"options,omitempty"`

	// Task steps.
	TaskNote string `json:"task_note,omitempty"`

	Condition *StepCondition `json:"condition,omitempty"`
}

type SequenceStatus string

const (
	SequenceActive    SequenceStatus = "active"
	SequencePaused    SequenceStatus = "paused"
	SequenceCompleted SequenceStatus = "completed"
	SequenceFailed    SequenceStatus = "failed"
)

// maxStepRetries is the per-step retry ceiling; a message step that keeps
// failing fails the instance rather than being skipped, since delivery
// order matters for nurturing cadence.
const maxStepRetries = 3

type StepResult struct {
	Index  int       `json:"index"`
	Status string    `json:"status"` // sent | skipped | scheduled | task_created | decided | deferred | failed
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// SequenceInstance executes an ordered step list against a lead. The
// cursor never moves backward.
type SequenceInstance struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	LeadID      string `json:"lead_id"`

	Steps  []Step         `json:"steps"`
	Cursor int            `json:"cursor"`
	Status SequenceStatus `json:"status"`

	// Responded accumulates whether the lead has reacted to any prior
	// message; step conditions evaluate against it.
	Responded      bool       `json:"responded"`
	LastResponseAt *time.Time `json:"last_response_at,omitempty"`

	Results    []StepResult `json:"results,omitempty"`
	RetryCount int          `json:"retry_count"`

	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	FailReason string `json:"fail_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Version int64 `json:"-"`
}

func (s SequenceInstance) Terminal() bool {
	return s.Status == SequenceCompleted || s.Status == SequenceFailed
}
