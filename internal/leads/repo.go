package leads

import (
	"context"
	"sync"

	"autopilot-platform/internal/store"
)

const leadsCollection = "leads"

// Source resolves lead profiles for a workspace.
type Source interface {
	GetProfile(ctx context.Context, workspaceID, leadID string) (Profile, error)
	PutProfile(ctx context.Context, p Profile) error
}

// StoreSource keeps profiles as documents.
type StoreSource struct {
	st store.Store
}

func NewStoreSource(st store.Store) *StoreSource {
	return &StoreSource{st: st}
}

func (s *StoreSource) GetProfile(ctx context.Context, workspaceID, leadID string) (Profile, error) {
	doc, err := s.st.Get(ctx, workspaceID, leadsCollection, leadID)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := doc.Decode(&p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *StoreSource) PutProfile(ctx context.Context, p Profile) error {
	if p.WorkspaceID == "" || p.ID == "" {
		return store.ErrInvalidArgument
	}
	_, err := s.st.Put(ctx, p.WorkspaceID, leadsCollection, p.ID, p)
	return err
}

// MemorySource is a map-backed Source for tests.
type MemorySource struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemorySource() *MemorySource {
	return &MemorySource{profiles: make(map[string]Profile)}
}

func (m *MemorySource) GetProfile(_ context.Context, workspaceID, leadID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[workspaceID+"/"+leadID]
	if !ok {
		return Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (m *MemorySource) PutProfile(_ context.Context, p Profile) error {
	if p.WorkspaceID == "" || p.ID == "" {
		return store.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.WorkspaceID+"/"+p.ID] = p
	return nil
}
