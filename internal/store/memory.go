package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and local runs. It honors the
// same version discipline as the Postgres implementation.
type Memory struct {
	mu   sync.Mutex
	docs map[memKey]Document

	clock func() time.Time
}

type memKey struct {
	workspaceID string
	collection  string
	key         string
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[memKey]Document), clock: time.Now}
}

func (m *Memory) Get(ctx context.Context, workspaceID, collection, key string) (Document, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[memKey{workspaceID, collection, key}]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) Put(ctx context.Context, workspaceID, collection, key string, data any) (Document, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return Document{}, err
	}
	body, err := marshalBody(data)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{workspaceID, collection, key}
	prev := m.docs[k]
	d := Document{
		WorkspaceID: workspaceID,
		Collection:  collection,
		Key:         key,
		Version:     prev.Version + 1,
		Data:        body,
		UpdatedAt:   m.clock().UTC(),
	}
	m.docs[k] = d
	return d, nil
}

func (m *Memory) UpdateConditional(ctx context.Context, workspaceID, collection, key string, expectedVersion int64, data any) (Document, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return Document{}, err
	}
	body, err := marshalBody(data)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{workspaceID, collection, key}
	prev, ok := m.docs[k]
	if !ok {
		return Document{}, ErrNotFound
	}
	if prev.Version != expectedVersion {
		return Document{}, ErrConflict
	}
	d := Document{
		WorkspaceID: workspaceID,
		Collection:  collection,
		Key:         key,
		Version:     prev.Version + 1,
		Data:        body,
		UpdatedAt:   m.clock().UTC(),
	}
	m.docs[k] = d
	return d, nil
}

func (m *Memory) Increment(ctx context.Context, workspaceID, collection, key, field string, delta int64) (int64, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return 0, err
	}
	if field == "" {
		return 0, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{workspaceID, collection, key}
	prev, ok := m.docs[k]

	fields := map[string]json.RawMessage{}
	if ok && len(prev.Data) > 0 {
		if err := json.Unmarshal(prev.Data, &fields); err != nil {
			return 0, err
		}
	}
	var cur int64
	if raw, ok := fields[field]; ok {
		if err := json.Unmarshal(raw, &cur); err != nil {
			return 0, ErrInvalidArgument
		}
	}
	cur += delta
	b, err := json.Marshal(cur)
	if err != nil {
		return 0, err
	}
	fields[field] = b
	body, err := json.Marshal(fields)
	if err != nil {
		return 0, err
	}
	m.docs[k] = Document{
		WorkspaceID: workspaceID,
		Collection:  collection,
		Key:         key,
		Version:     prev.Version + 1,
		Data:        body,
		UpdatedAt:   m.clock().UTC(),
	}
	return cur, nil
}

func (m *Memory) List(ctx context.Context, workspaceID, collection string) ([]Document, error) {
	if workspaceID == "" || collection == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for k, d := range m.docs {
		if k.workspaceID == workspaceID && k.collection == collection {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
