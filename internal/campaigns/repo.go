package campaigns

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("campaigns: not found")

// Repository abstracts campaign and snapshot access for the detector sweep.
//
// IMPORTANT:
// - Methods must enforce workspace filtering.
// - Snapshots are immutable; there is no update path.
type Repository interface {
	GetCampaign(ctx context.Context, workspaceID, campaignID string) (Campaign, error)
	UpsertCampaign(ctx context.Context, c Campaign) error
	ListActiveCampaigns(ctx context.Context, workspaceID string) ([]Campaign, error)

	// RecentSnapshots returns up to limit snapshots ordered newest first.
	RecentSnapshots(ctx context.Context, workspaceID, campaignID string, limit int) ([]MetricSnapshot, error)

	AppendSnapshot(ctx context.Context, s MetricSnapshot) error
}

// MemoryRepo is a simple in-memory repository useful for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	snapshots map[string][]MetricSnapshot // campaignID -> snapshots
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		campaigns: make(map[string]Campaign),
		snapshots: make(map[string][]MetricSnapshot),
	}
}

// PutCampaign is a test convenience around UpsertCampaign.
func (r *MemoryRepo) PutCampaign(c Campaign) {
	_ = r.UpsertCampaign(context.Background(), c)
}

func (r *MemoryRepo) UpsertCampaign(ctx context.Context, c Campaign) error {
	if c.WorkspaceID == "" || c.ID == "" {
		return errors.New("campaigns: workspace_id and id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) GetCampaign(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok || c.WorkspaceID != workspaceID {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListActiveCampaigns(ctx context.Context, workspaceID string) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.campaigns {
		if c.WorkspaceID == workspaceID && c.Status == StatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) RecentSnapshots(ctx context.Context, workspaceID, campaignID string, limit int) ([]MetricSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MetricSnapshot
	for _, s := range r.snapshots[campaignID] {
		if s.WorkspaceID == workspaceID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) AppendSnapshot(ctx context.Context, s MetricSnapshot) error {
	if s.WorkspaceID == "" || s.CampaignID == "" {
		return errors.New("campaigns: workspace_id and campaign_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.CampaignID] = append(r.snapshots[s.CampaignID], s)
	return nil
}
