package workflow

import (
	"context"
	"time"

	"autopilot-platform/internal/store"
)

const (
	workflowsCollection = "workflows"
	sequencesCollection = "sequences"
	tasksCollection     = "tasks"
)

// Repo persists workflow and sequence instances. Updates are conditional
// on the instance version; a conflict means another worker got there first
// and the caller should reload and re-evaluate.
type Repo interface {
	CreateWorkflow(ctx context.Context, inst *Instance) error
	GetWorkflow(ctx context.Context, workspaceID, id string) (Instance, error)
	UpdateWorkflow(ctx context.Context, inst *Instance) error
	ListWorkflows(ctx context.Context, workspaceID string) ([]Instance, error)
	ListDueWorkflows(ctx context.Context, workspaceID string, now time.Time) ([]Instance, error)

	CreateSequence(ctx context.Context, seq *SequenceInstance) error
	GetSequence(ctx context.Context, workspaceID, id string) (SequenceInstance, error)
	UpdateSequence(ctx context.Context, seq *SequenceInstance) error
	ListSequences(ctx context.Context, workspaceID string) ([]SequenceInstance, error)
	ListDueSequences(ctx context.Context, workspaceID string, now time.Time) ([]SequenceInstance, error)
}

// StoreRepo keeps instances as documents; the store's version check is the
// only write-write coordination between scheduler workers.
type StoreRepo struct {
	st store.Store
}

func NewStoreRepo(st store.Store) *StoreRepo {
	return &StoreRepo{st: st}
}

func (r *StoreRepo) CreateWorkflow(ctx context.Context, inst *Instance) error {
	doc, err := r.st.Put(ctx, inst.WorkspaceID, workflowsCollection, inst.ID, inst)
	if err != nil {
		return err
	}
	inst.Version = doc.Version
	return nil
}

func (r *StoreRepo) GetWorkflow(ctx context.Context, workspaceID, id string) (Instance, error) {
	doc, err := r.st.Get(ctx, workspaceID, workflowsCollection, id)
	if err != nil {
		return Instance{}, err
	}
	return decodeWorkflow(doc)
}

func (r *StoreRepo) UpdateWorkflow(ctx context.Context, inst *Instance) error {
	doc, err := r.st.UpdateConditional(ctx, inst.WorkspaceID, workflowsCollection, inst.ID, inst.Version, inst)
	if err != nil {
		return err
	}
	inst.Version = doc.Version
	return nil
}

func (r *StoreRepo) ListWorkflows(ctx context.Context, workspaceID string) ([]Instance, error) {
	docs, err := r.st.List(ctx, workspaceID, workflowsCollection)
	if err != nil {
		return nil, err
	}
	out := make([]Instance, 0, len(docs))
	for _, doc := range docs {
		inst, err := decodeWorkflow(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (r *StoreRepo) ListDueWorkflows(ctx context.Context, workspaceID string, now time.Time) ([]Instance, error) {
	all, err := r.ListWorkflows(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var due []Instance
	for _, inst := range all {
		if inst.Terminal() || inst.NextDueAt == nil {
			continue
		}
		if !inst.NextDueAt.After(now) {
			due = append(due, inst)
		}
	}
	return due, nil
}

func (r *StoreRepo) CreateSequence(ctx context.Context, seq *SequenceInstance) error {
	doc, err := r.st.Put(ctx, seq.WorkspaceID, sequencesCollection, seq.ID, seq)
	if err != nil {
		return err
	}
	seq.Version = doc.Version
	return nil
}

func (r *StoreRepo) GetSequence(ctx context.Context, workspaceID, id string) (SequenceInstance, error) {
	doc, err := r.st.Get(ctx, workspaceID, sequencesCollection, id)
	if err != nil {
		return SequenceInstance{}, err
	}
	return decodeSequence(doc)
}

func (r *StoreRepo) UpdateSequence(ctx context.Context, seq *SequenceInstance) error {
	doc, err := r.st.UpdateConditional(ctx, seq.WorkspaceID, sequencesCollection, seq.ID, seq.Version, seq)
	if err != nil {
		return err
	}
	seq.Version = doc.Version
	return nil
}

func (r *StoreRepo) ListSequences(ctx context.Context, workspaceID string) ([]SequenceInstance, error) {
	docs, err := r.st.List(ctx, workspaceID, sequencesCollection)
	if err != nil {
		return nil, err
	}
	out := make([]SequenceInstance, 0, len(docs))
	for _, doc := range docs {
		seq, err := decodeSequence(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, nil
}

func (r *StoreRepo) ListDueSequences(ctx context.Context, workspaceID string, now time.Time) ([]SequenceInstance, error) {
	all, err := r.ListSequences(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var due []SequenceInstance
	for _, seq := range all {
		if seq.Status != SequenceActive || seq.NextDueAt == nil {
			continue
		}
		if !seq.NextDueAt.After(now) {
			due = append(due, seq)
		}
	}
	return due, nil
}

func decodeWorkflow(doc store.Document) (Instance, error) {
	var inst Instance
	if err := doc.Decode(&inst); err != nil {
		return Instance{}, err
	}
	inst.Version = doc.Version
	return inst, nil
}

func decodeSequence(doc store.Document) (SequenceInstance, error) {
	var seq SequenceInstance
	if err := doc.Decode(&seq); err != nil {
		return SequenceInstance{}, err
	}
	seq.Version = doc.Version
	return seq, nil
}
