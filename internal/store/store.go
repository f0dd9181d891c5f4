package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Store is a tenant-scoped document store.
//
// Concurrency model:
// - Every document carries a version, bumped on each write.
// - UpdateConditional writes only if the stored version still matches;
//   callers implement read-modify-write loops on ErrConflict.
// - Increment atomically adjusts one numeric top-level field and is the
//   only primitive that mutates a document without a version check.
//
// This is the single synchronization point between scheduler workers; there
// are no process-level locks on instance state.
type Store interface {
	Get(ctx context.Context, workspaceID, collection, key string) (Document, error)

	// Put upserts unconditionally and returns the stored document.
	Put(ctx context.Context, workspaceID, collection, key string, data any) (Document, error)

	// UpdateConditional writes only when the current version equals
	// expectedVersion. Returns ErrConflict otherwise, ErrNotFound if the
	// document does not exist.
	UpdateConditional(ctx context.Context, workspaceID, collection, key string, expectedVersion int64, data any) (Document, error)

	// Increment atomically adds delta to a numeric top-level field,
	// creating the document (and the field at zero) if missing.
	// Returns the new field value.
	Increment(ctx context.Context, workspaceID, collection, key, field string, delta int64) (int64, error)

	// List returns all documents in a collection for a workspace.
	// Intended for due-instance scans; collections stay small per tenant.
	List(ctx context.Context, workspaceID, collection string) ([]Document, error)
}

type Document struct {
	WorkspaceID string          `json:"workspace_id"`
	Collection  string          `json:"collection"`
	Key         string          `json:"key"`
	Version     int64           `json:"version"`
	Data        json.RawMessage `json:"data"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Decode unmarshals the document body into out.
func (d Document) Decode(out any) error {
	if len(d.Data) == 0 {
		return errors.New("store: empty document body")
	}
	return json.Unmarshal(d.Data, out)
}

var (
	ErrNotFound        = errors.New("store: not found")
	ErrConflict        = errors.New("store: version conflict")
	ErrInvalidArgument = errors.New("store: invalid argument")
)

func validateKey(workspaceID, collection, key string) error {
	if workspaceID == "" || collection == "" || key == "" {
		return ErrInvalidArgument
	}
	return nil
}

func marshalBody(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}
