package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autopilot-platform/internal/audit"
	"autopilot-platform/internal/auth"
	"autopilot-platform/internal/autonomy"
	"autopilot-platform/internal/campaigns"
	"autopilot-platform/internal/channel"
	"autopilot-platform/internal/config"
	"autopilot-platform/internal/httpapi"
	"autopilot-platform/internal/leads"
	"autopilot-platform/internal/provider"
	"autopilot-platform/internal/store"
	"autopilot-platform/internal/workflow"
	"autopilot-platform/pkg/logger"
	"autopilot-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	gen, err := provider.New(cfg.Provider)
	if err != nil {
		log.Error("provider init failed", "err", err)
		os.Exit(1)
	}

	relay, err := channel.NewRelayExecutor(channel.RelayConfig{
		BaseURL: cfg.Channel.RelayBaseURL,
		Token:   cfg.Channel.RelayToken,
		Timeout: cfg.Channel.SendTimeout,
	})
	if err != nil {
		log.Error("channel relay init failed", "err", err)
		os.Exit(1)
	}

	// Persistence.
	docs := store.NewPostgres(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	campaignRepo := campaigns.NewPostgresRepo(db)
	leadSrc := leads.NewStoreSource(docs)

	// Autonomous decision loop.
	profiles := autonomy.NewStoreProfiles(docs)
	engine := autonomy.NewEngine(log)
	suggestions := autonomy.NewSuggestionService(docs, auditSvc)
	orch := autonomy.NewOrchestrator(autonomy.OrchestratorConfig{
		Campaigns:   campaignRepo,
		Detector:    autonomy.NewDetector(campaignRepo),
		Gate:        autonomy.NewGate(profiles, log),
		Engine:      engine,
		Learner:     autonomy.NewLearner(autonomy.NewStoreLearning(docs), autonomy.DefaultLearningRate),
		Suggestions: suggestions,
		Audit:       auditSvc,
		Generator:   gen,
		Store:       docs,
		Log:         log,
	})

	// Workflows and sequences.
	wfRepo := workflow.NewStoreRepo(docs)
	seqEngine := workflow.NewSequenceEngine(relay, leadSrc, engine, docs, log)
	wfService := workflow.NewService(wfRepo, workflow.NewEscalator(), seqEngine, leadSrc, auditSvc, log)

	sched := workflow.NewScheduler(workflow.SchedulerConfig{
		Service:       wfService,
		Orch:          orch,
		Workspaces:    schedulerWorkspaces(cfg.Scheduler.Workspaces),
		Redis:         rdb,
		DeliveryTick:  cfg.Scheduler.DeliveryTick,
		LifecycleTick: cfg.Scheduler.LifecycleTick,
		WorkerCap:     cfg.Scheduler.WorkerCap,
		Log:           log,
	})
	go sched.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:        authManager,
		Profiles:    profiles,
		Suggestions: suggestions,
		Orch:        orch,
		Audit:       auditSvc,
		Workflows:   wfService,
		Leads:       leadSrc,
		Campaigns:   campaignRepo,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// schedulerWorkspaces parses validated "workspace_id:owner_id" pairs.
func schedulerWorkspaces(pairs []string) workflow.StaticWorkspaces {
	out := make(workflow.StaticWorkspaces, 0, len(pairs))
	for _, p := range pairs {
		id, owner, _ := strings.Cut(p, ":")
		out = append(out, workflow.Workspace{ID: id, OwnerID: owner})
	}
	return out
}
