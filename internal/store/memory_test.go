package store

import (
	"context"
	"errors"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func TestMemory_PutGetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	d, err := m.Put(ctx, "w", "leads", "l1", doc{Name: "a"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Version != 1 {
		t.Fatalf("expected version 1, got %d", d.Version)
	}

	got, err := m.Get(ctx, "w", "leads", "l1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	var out doc
	if err := got.Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Name != "a" {
		t.Fatalf("expected name a, got %q", out.Name)
	}
}

func TestMemory_GetMissingReturnsNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get(context.Background(), "w", "leads", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_UpdateConditionalEnforcesVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	d, err := m.Put(ctx, "w", "leads", "l1", doc{Name: "a"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// Stale version must conflict.
	if _, err := m.UpdateConditional(ctx, "w", "leads", "l1", d.Version+1, doc{Name: "b"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Matching version succeeds and bumps.
	d2, err := m.UpdateConditional(ctx, "w", "leads", "l1", d.Version, doc{Name: "b"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d2.Version != d.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", d.Version+1, d2.Version)
	}

	// First writer wins: the old version is now unusable.
	if _, err := m.UpdateConditional(ctx, "w", "leads", "l1", d.Version, doc{Name: "c"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after concurrent write, got %v", err)
	}
}

func TestMemory_UpdateConditionalMissingDoc(t *testing.T) {
	m := NewMemory()
	if _, err := m.UpdateConditional(context.Background(), "w", "leads", "l1", 0, doc{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_IncrementCreatesAndAccumulates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	n, err := m.Increment(ctx, "w", "counters", "attempts:o1", "count", 1)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	n, err = m.Increment(ctx, "w", "counters", "attempts:o1", "count", 2)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestMemory_ListScopedByWorkspace(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.Put(ctx, "w1", "flows", "a", doc{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.Put(ctx, "w2", "flows", "b", doc{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	docs, err := m.List(ctx, "w1", "flows")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "a" {
		t.Fatalf("expected only w1 docs, got %+v", docs)
	}
}
