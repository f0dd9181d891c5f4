package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"autopilot-platform/internal/store"
)

// DefaultLearningRate is the EMA step size for expected-value updates.
const DefaultLearningRate = 0.2

// DefaultExpectedValue is the optimistic prior for actions with no history.
const DefaultExpectedValue = 0.5

// LearningStore persists expected values per (action, context bucket).
type LearningStore interface {
	GetExpectedValue(ctx context.Context, workspaceID, bucket string, action ActionType) (ev float64, ok bool, err error)
	PutExpectedValue(ctx context.Context, workspaceID, bucket string, action ActionType, ev float64) error
}

// ContextBucket localizes learning by industry and company-size band so an
// outcome observed for one segment does not shift estimates globally.
func ContextBucket(industry string, employees int) string {
	ind := strings.ToLower(strings.TrimSpace(industry))
	if ind == "" {
		ind = "unknown"
	}
	var band string
	switch {
	case employees <= 0:
		band = "unknown"
	case employees <= 10:
		band = "1-10"
	case employees <= 50:
		band = "11-50"
	case employees <= 200:
		band = "51-200"
	case employees <= 1000:
		band = "201-1000"
	default:
		band = "1000+"
	}
	return ind + ":" + band
}

// RewardFromOutcome maps an observed outcome onto [0,1].
func RewardFromOutcome(o Outcome) float64 {
	if !o.Success {
		return 0
	}
	switch o.Signal {
	case "conversion":
		return 1.0
	case "positive_reply":
		return 0.9
	case "click":
		return 0.7
	case "neutral_reply":
		return 0.6
	default:
		return 0.5
	}
}

// Learner applies the exponential-moving-average update. This is the only
// place expected values change; selection never mutates them.
type Learner struct {
	store LearningStore
	alpha float64
}

func NewLearner(store LearningStore, alpha float64) *Learner {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultLearningRate
	}
	return &Learner{store: store, alpha: alpha}
}

// Update consumes one outcome for a recorded decision.
func (l *Learner) Update(ctx context.Context, d Decision, o Outcome) (float64, error) {
	if d.Stop || d.Chosen == nil {
		return 0, fmt.Errorf("%w: cannot learn from a stop decision", ErrValidation)
	}
	if o.DecisionID != "" && d.ID != "" && o.DecisionID != d.ID {
		return 0, fmt.Errorf("%w: outcome does not reference this decision", ErrValidation)
	}

	reward := RewardFromOutcome(o)
	old, ok, err := l.store.GetExpectedValue(ctx, d.WorkspaceID, d.ContextBucket, d.Chosen.Action)
	if err != nil {
		return 0, err
	}
	if !ok {
		old = DefaultExpectedValue
	}
	next := old + l.alpha*(reward-old)
	if err := l.store.PutExpectedValue(ctx, d.WorkspaceID, d.ContextBucket, d.Chosen.Action, next); err != nil {
		return 0, err
	}
	return next, nil
}

// ExpectedValue reads the current estimate, falling back to the prior.
func (l *Learner) ExpectedValue(ctx context.Context, workspaceID, bucket string, action ActionType) float64 {
	ev, ok, err := l.store.GetExpectedValue(ctx, workspaceID, bucket, action)
	if err != nil || !ok {
		return DefaultExpectedValue
	}
	return ev
}

const learningCollection = "learning"

// StoreLearning keeps one document per context bucket with a field per
// action type. Writes go through the conditional-update loop.
type StoreLearning struct {
	st    store.Store
	clock func() time.Time
}

func NewStoreLearning(st store.Store) *StoreLearning {
	return &StoreLearning{st: st, clock: time.Now}
}

type learningDoc struct {
	Values    map[string]float64 `json:"values"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (s *StoreLearning) GetExpectedValue(ctx context.Context, workspaceID, bucket string, action ActionType) (float64, bool, error) {
	doc, err := s.st.Get(ctx, workspaceID, learningCollection, bucket)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var body learningDoc
	if err := doc.Decode(&body); err != nil {
		return 0, false, err
	}
	ev, ok := body.Values[string(action)]
	return ev, ok, nil
}

func (s *StoreLearning) PutExpectedValue(ctx context.Context, workspaceID, bucket string, action ActionType, ev float64) error {
	if workspaceID == "" || bucket == "" {
		return ErrValidation
	}
	// Read-modify-write with one retry on conflict; a second conflict means
	// a concurrent learner already folded in newer data.
	for attempt := 0; attempt < 2; attempt++ {
		doc, err := s.st.Get(ctx, workspaceID, learningCollection, bucket)
		if errors.Is(err, store.ErrNotFound) {
			body, merr := json.Marshal(learningDoc{
				Values:    map[string]float64{string(action): ev},
				UpdatedAt: s.clock().UTC(),
			})
			if merr != nil {
				return merr
			}
			if _, err := s.st.Put(ctx, workspaceID, learningCollection, bucket, json.RawMessage(body)); err != nil {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}

		var body learningDoc
		if err := doc.Decode(&body); err != nil {
			return err
		}
		if body.Values == nil {
			body.Values = map[string]float64{}
		}
		body.Values[string(action)] = ev
		body.UpdatedAt = s.clock().UTC()

		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		_, err = s.st.UpdateConditional(ctx, workspaceID, learningCollection, bucket, doc.Version, json.RawMessage(raw))
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return store.ErrConflict
}
