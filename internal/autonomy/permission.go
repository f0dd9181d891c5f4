package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"autopilot-platform/internal/store"
)

// ProfileStore looks up an owner's permission profile.
type ProfileStore interface {
	GetProfile(ctx context.Context, workspaceID, ownerID string) (PermissionProfile, error)
	PutProfile(ctx context.Context, p PermissionProfile) error
}

// Gate authorizes autonomous actions against the owner's autonomy tier.
//
// Authorization holds iff the owner's tier is at or above the action's risk
// tier. suggest_only and none never authorize execution. Lookup failures
// deny (fail closed) and log.
type Gate struct {
	profiles ProfileStore
	log      *slog.Logger
}

func NewGate(profiles ProfileStore, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{profiles: profiles, log: log}
}

// IsAuthorized is a pure read; it performs no side effects beyond logging.
func (g *Gate) IsAuthorized(ctx context.Context, workspaceID, ownerID string, action ActionType) bool {
	risk, ok := action.RiskTier()
	if !ok {
		g.log.Warn("permission gate: unknown action type", "action", string(action))
		return false
	}
	if g.profiles == nil {
		g.log.Warn("permission gate: profile store not configured")
		return false
	}

	p, err := g.profiles.GetProfile(ctx, workspaceID, ownerID)
	if err != nil {
		g.log.Warn("permission gate: profile lookup failed, denying",
			"workspace_id", workspaceID, "owner_id", ownerID, "err", err)
		return false
	}

	switch p.Tier {
	case TierNone, TierSuggestOnly:
		return false
	}
	return p.Tier.rank() >= risk.rank()
}

const profileCollection = "permission_profiles"

// StoreProfiles persists permission profiles as documents.
type StoreProfiles struct {
	st    store.Store
	clock func() time.Time
}

func NewStoreProfiles(st store.Store) *StoreProfiles {
	return &StoreProfiles{st: st, clock: time.Now}
}

func (s *StoreProfiles) GetProfile(ctx context.Context, workspaceID, ownerID string) (PermissionProfile, error) {
	doc, err := s.st.Get(ctx, workspaceID, profileCollection, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PermissionProfile{}, ErrNotFound
		}
		return PermissionProfile{}, err
	}
	var p PermissionProfile
	if err := doc.Decode(&p); err != nil {
		return PermissionProfile{}, err
	}
	return p, nil
}

func (s *StoreProfiles) PutProfile(ctx context.Context, p PermissionProfile) error {
	if p.WorkspaceID == "" || p.OwnerID == "" {
		return ErrValidation
	}
	if !ValidTier(p.Tier) {
		return ErrValidation
	}
	p.UpdatedAt = s.clock().UTC()
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.st.Put(ctx, p.WorkspaceID, profileCollection, p.OwnerID, json.RawMessage(body))
	return err
}
