// Package app is the composition root: manual dependency wiring, route
// registration and lifecycle management.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"github.com/wobcom/netbox-sub000/internal/api/handlers"
	"github.com/wobcom/netbox-sub000/internal/api/middleware"
	"github.com/wobcom/netbox-sub000/internal/broadcast"
	"github.com/wobcom/netbox-sub000/internal/config"
	"github.com/wobcom/netbox-sub000/internal/infrastructure"
	"github.com/wobcom/netbox-sub000/internal/inventory"
	"github.com/wobcom/netbox-sub000/internal/jobs"
	"github.com/wobcom/netbox-sub000/internal/pkg/worker"
	"github.com/wobcom/netbox-sub000/internal/provision"
	"github.com/wobcom/netbox-sub000/internal/record"
	"github.com/wobcom/netbox-sub000/internal/repository"
	"github.com/wobcom/netbox-sub000/internal/session"
	"github.com/wobcom/netbox-sub000/internal/tracking"
)

// Application holds the composed application dependencies.
type Application struct {
	Config *config.Config
	Router *gin.Engine
	DB     *infrastructure.DatabaseClients
	Pools  *worker.Pools

	Sessions     *session.Service
	Orchestrator *provision.Orchestrator
	Exporter     *inventory.Exporter
}

// Bootstrap initializes all dependencies.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:   cfg.Worker.GeneralPoolSize,
		ProvisionPoolSize: cfg.Worker.ProvisionPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	// Repositories.
	changeSets := repository.NewChangeSetRepo(db.Pool)
	information := repository.NewInformationRepo(db.Pool)
	diffs := repository.NewDiffRepo(db.Pool)
	provisions := repository.NewProvisionRepo(db.Pool)
	devices := repository.NewDeviceRepo(db.Pool)

	// Record registry + change tracking.
	registry := record.NewRegistry()
	if err := registry.Register(devices); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("register device store: %w", err)
	}
	recorder := tracking.NewRecorder(registry, diffs, changeSets, cfg.Change.ValueMaxLength)

	// Broadcast hub + session service.
	hub := broadcast.NewHub(pools)
	sessions := session.NewService(changeSets, information, diffs, recorder, hub,
		cfg.Change.SessionTimeout)
	gate := session.NewGate(middleware.ClaimsBackend{}, changeSets,
		cfg.Change.NeedChangeForWrite)

	// Provisioning pipeline.
	orchestrator := provision.NewOrchestrator(
		provision.NewLock(),
		provisions,
		changeSets,
		provision.NewWorkerClient(cfg.Provision.WorkerURL, cfg.Provision.WorkerArgs),
		provision.ExecLauncher{},
		pools,
		hub,
		provision.Config{
			LogDir:        cfg.Provision.LogDir,
			DiffCommand:   cfg.Provision.DiffCommand,
			CommitCommand: cfg.Provision.CommitCommand,
			DatabaseURL:   cfg.Database.DSN(),
		},
	)

	// Background jobs.
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewSessionCleanupWorker(changeSets, cfg.Change.SessionTimeout))
	if err := db.InitRiverClient(workers, cfg.River); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init river: %w", err)
	}
	db.RiverClient.PeriodicJobs().Add(
		river.NewPeriodicJob(
			river.PeriodicInterval(5*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.SessionCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	)

	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSigningKey),
		Issuer:     cfg.Security.JWTIssuer,
		ExpiresIn:  cfg.Security.JWTExpiresIn,
	}
	server := handlers.NewServer(handlers.ServerDeps{
		Pool:         db.Pool,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Recorder:     recorder,
		Devices:      devices,
		Hub:          hub,
		Logs:         broadcast.NewLogStreamer(provisions, pools),
		JWTCfg:       jwtCfg,
	})

	return &Application{
		Config:       cfg,
		Router:       newRouter(cfg, server, gate, jwtCfg),
		DB:           db,
		Pools:        pools,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Exporter:     inventory.NewExporter(devices),
	}, nil
}
