package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"autopilot-platform/internal/autonomy"
	"autopilot-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Workspace is one schedulable tenant.
type Workspace struct {
	ID      string
	OwnerID string
}

// WorkspaceSource enumerates tenants for scheduler sweeps.
type WorkspaceSource interface {
	ActiveWorkspaces(ctx context.Context) ([]Workspace, error)
}

// Scheduler drives time-based processing on two cadences:
//
//   - delivery tick: advance due sequences and escalate timed-out workflows
//   - lifecycle tick: run the autonomous campaign sweep per workspace
//
// When redis is configured, a per-workspace lease keeps concurrent
// processes from sweeping the same tenant, and a shared concurrency cap
// bounds in-flight sends across all processes. Without redis the scheduler
// still runs single-process with a local worker bound.
type Scheduler struct {
	svc        *Service
	orch       *autonomy.Orchestrator
	workspaces WorkspaceSource
	rdb        *redis.Client

	deliveryTick  time.Duration
	lifecycleTick time.Duration
	workerCap     int

	// lease acquires a cross-process sweep lease; nil means single-process.
	lease leaseFunc

	holder string
	log    *slog.Logger
	clock  func() time.Time
}

type leaseFunc func(ctx context.Context, key string, ttl time.Duration) (bool, error)

type SchedulerConfig struct {
	Service    *Service
	Orch       *autonomy.Orchestrator
	Workspaces WorkspaceSource

	// Redis enables cross-process leases and send caps; nil is allowed.
	Redis *redis.Client

	DeliveryTick  time.Duration
	LifecycleTick time.Duration
	WorkerCap     int
	Log           *slog.Logger
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	workerCap := cfg.WorkerCap
	if workerCap <= 0 {
		workerCap = 8
	}
	deliveryTick := cfg.DeliveryTick
	if deliveryTick <= 0 {
		deliveryTick = 5 * time.Minute
	}
	lifecycleTick := cfg.LifecycleTick
	if lifecycleTick <= 0 {
		lifecycleTick = 24 * time.Hour
	}
	s := &Scheduler{
		svc:           cfg.Service,
		orch:          cfg.Orch,
		workspaces:    cfg.Workspaces,
		rdb:           cfg.Redis,
		deliveryTick:  deliveryTick,
		lifecycleTick: lifecycleTick,
		workerCap:     workerCap,
		holder:        uuid.NewString(),
		log:           log,
		clock:         time.Now,
	}
	if cfg.Redis != nil {
		s.lease = func(ctx context.Context, key string, ttl time.Duration) (bool, error) {
			return utils.AcquireLease(ctx, cfg.Redis, key, s.holder, ttl)
		}
	}
	return s
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	delivery := time.NewTicker(s.deliveryTick)
	defer delivery.Stop()
	lifecycle := time.NewTicker(s.lifecycleTick)
	defer lifecycle.Stop()

	s.log.Info("scheduler started",
		"delivery_tick", s.deliveryTick.String(),
		"lifecycle_tick", s.lifecycleTick.String(),
		"worker_cap", s.workerCap)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-delivery.C:
			s.DeliverySweep(ctx)
		case <-lifecycle.C:
			s.LifecycleSweep(ctx)
		}
	}
}

// DeliverySweep processes every due workflow and sequence across tenants.
func (s *Scheduler) DeliverySweep(ctx context.Context) {
	tenants, err := s.workspaces.ActiveWorkspaces(ctx)
	if err != nil {
		s.log.Error("workspace enumeration failed", "err", err)
		return
	}
	now := s.clock().UTC()
	for _, ws := range tenants {
		if !s.tryLease(ctx, "sweep:delivery:"+ws.ID, s.deliveryTick) {
			continue
		}
		s.sweepWorkspace(ctx, ws, now)
	}
}

func (s *Scheduler) sweepWorkspace(ctx context.Context, ws Workspace, now time.Time) {
	workflows, err := s.svc.repo.ListDueWorkflows(ctx, ws.ID, now)
	if err != nil {
		s.log.Warn("due workflow scan failed", "workspace_id", ws.ID, "err", err)
		workflows = nil
	}
	sequences, err := s.svc.repo.ListDueSequences(ctx, ws.ID, now)
	if err != nil {
		s.log.Warn("due sequence scan failed", "workspace_id", ws.ID, "err", err)
		sequences = nil
	}
	if len(workflows) == 0 && len(sequences) == 0 {
		return
	}

	// Bounded fan-out: one failed instance never blocks the rest.
	sem := make(chan struct{}, s.workerCap)
	var wg sync.WaitGroup

	dispatch := func(fn func()) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn()
		}()
	}

	for _, inst := range workflows {
		inst := inst
		dispatch(func() {
			if err := s.svc.ProcessDueWorkflow(ctx, inst); err != nil {
				s.log.Warn("workflow escalation failed",
					"workspace_id", ws.ID, "workflow_id", inst.ID, "err", err)
			}
		})
	}
	for _, seq := range sequences {
		seq := seq
		if !s.trySendSlot(ctx, ws.ID) {
			// Cap reached across processes; the instance stays due and the
			// next tick picks it up.
			continue
		}
		dispatch(func() {
			defer s.releaseSendSlot(ctx, ws.ID)
			if err := s.svc.ProcessDueSequence(ctx, seq); err != nil {
				s.log.Warn("sequence advance failed",
					"workspace_id", ws.ID, "sequence_id", seq.ID, "err", err)
			}
		})
	}
	wg.Wait()
}

// LifecycleSweep runs the autonomous campaign loop for every tenant.
func (s *Scheduler) LifecycleSweep(ctx context.Context) {
	if s.orch == nil {
		return
	}
	tenants, err := s.workspaces.ActiveWorkspaces(ctx)
	if err != nil {
		s.log.Error("workspace enumeration failed", "err", err)
		return
	}
	for _, ws := range tenants {
		// Lease for the full cadence so a replica whose ticker fires late
		// cannot re-run a sweep another replica already took.
		if !s.tryLease(ctx, "sweep:lifecycle:"+ws.ID, s.lifecycleTick) {
			continue
		}
		report, err := s.orch.RunSweep(ctx, ws.ID, ws.OwnerID, false)
		if err != nil {
			s.log.Warn("lifecycle sweep failed", "workspace_id", ws.ID, "err", err)
			continue
		}
		s.log.Info("lifecycle sweep finished",
			"workspace_id", ws.ID,
			"campaigns", report.Campaigns,
			"detected", report.Detected,
			"executed", report.Executed,
			"suggested", report.Suggested,
			"deferred", report.Deferred)
	}
}

// tryLease is a no-op without redis: a single process needs no lease.
// The TTL must match the sweep's cadence or overlapping replicas slip
// through between expiry and the next tick.
func (s *Scheduler) tryLease(ctx context.Context, key string, ttl time.Duration) bool {
	if s.lease == nil {
		return true
	}
	ok, err := s.lease(ctx, key, ttl)
	if err != nil {
		s.log.Warn("lease acquire failed, proceeding without", "key", key, "err", err)
		return true
	}
	return ok
}

func (s *Scheduler) trySendSlot(ctx context.Context, workspaceID string) bool {
	if s.rdb == nil {
		return true
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, s.rdb, "sends:"+workspaceID, s.workerCap, time.Minute)
	if err != nil {
		s.log.Warn("send cap acquire failed, proceeding without", "workspace_id", workspaceID, "err", err)
		return true
	}
	return ok
}

func (s *Scheduler) releaseSendSlot(ctx context.Context, workspaceID string) {
	if s.rdb == nil {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, s.rdb, "sends:"+workspaceID); err != nil {
		s.log.Warn("send cap release failed", "workspace_id", workspaceID, "err", err)
	}
}

// StaticWorkspaces is a fixed WorkspaceSource for single-tenant deploys
// and tests.
type StaticWorkspaces []Workspace

func (s StaticWorkspaces) ActiveWorkspaces(context.Context) ([]Workspace, error) {
	return []Workspace(s), nil
}
