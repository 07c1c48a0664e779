// Package main is the entry point for the cohort server: one long-lived
// process hosting the session store, the provider supervisor, the
// orchestrator, the background worker and the HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cohort-dev/cohort/internal/adapter"
	"github.com/cohort-dev/cohort/internal/common/config"
	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/common/logger"
	"github.com/cohort-dev/cohort/internal/events/bus"
	"github.com/cohort-dev/cohort/internal/orchestrator"
	"github.com/cohort-dev/cohort/internal/persistence"
	"github.com/cohort-dev/cohort/internal/queue"
	"github.com/cohort-dev/cohort/internal/server"
	"github.com/cohort-dev/cohort/internal/session"
	"github.com/cohort-dev/cohort/internal/skills"
	"github.com/cohort-dev/cohort/internal/supervisor"
	"github.com/cohort-dev/cohort/internal/sysprompt"
	"github.com/cohort-dev/cohort/internal/trace"
	"github.com/cohort-dev/cohort/internal/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("cohort", flag.ContinueOnError)
	configPath := fs.String("config", "", "directory containing config.yaml")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 2
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting cohort",
		zap.String("db_driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tracing.Init(ctx, cfg.Tracing); err != nil {
		log.Warn("tracing init failed", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background())

	persist, err := persistence.Open(cfg.Database)
	if err != nil {
		log.Error("failed to open persistence", zap.Error(err))
		return 1
	}
	defer persist.Close()

	eventBus, err := bus.Connect(cfg.NATS.URL, log)
	if err != nil {
		log.Error("failed to connect event bus", zap.Error(err))
		return 1
	}
	defer eventBus.Close()

	registry := adapter.NewRegistry()
	recorder := trace.NewRecorder(persist, registry, trace.Options{
		FlushThreshold: cfg.Store.FlushThreshold,
		VCSBudget:      cfg.Store.VCSSnapshotBudget,
	}, log)

	store := session.NewStore(cfg.Store, recorder, registry, persist, log)
	store.Hydrate(ctx)
	store.Start()
	defer store.Stop()

	sup := supervisor.New(cfg.Supervisor, supervisor.NewResolver(cfg.Providers), log)
	defer sup.Shutdown()

	specialists, err := sysprompt.NewRegistry(cfg.Orchestrator.SpecialistsFile)
	if err != nil {
		log.Error("failed to load specialists", zap.Error(err))
		return 2
	}

	orch := orchestrator.New(cfg.Orchestrator, store, sup, specialists, eventBus, log)

	tasks := queue.NewService(persist, store, orch, log)
	tasks.RegisterProgress()
	worker := queue.NewWorker(tasks, cfg.Worker, log)
	worker.Start()
	defer worker.Stop()

	srv := server.New(cfg.Server, store, sup, orch, tasks,
		skills.NewRegistry(cfg.Skills.Dir), specialists, persist, log)
	if err := srv.Start(ctx); err != nil {
		log.Error("server failed", zap.Error(err))
		if cerr.IsKind(err, cerr.KindUpstreamUnavailable) {
			return 64
		}
		return 1
	}

	log.Info("cohort stopped")
	return 0
}
