package audit

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, workspaceID string, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	// Newest first.
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].WorkspaceID == workspaceID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
