package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/config"
	"github.com/vzahanych/digit-recognizer/internal/health"
	"github.com/vzahanych/digit-recognizer/internal/inference"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/presenter"
	"github.com/vzahanych/digit-recognizer/internal/sampler"
	"github.com/vzahanych/digit-recognizer/internal/service"
	"github.com/vzahanych/digit-recognizer/internal/state"
	"github.com/vzahanych/digit-recognizer/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	bootLog, err := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfgSvc, err := config.NewService(configPath, bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting digit recognizer",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)

	// Operator preferences and known cameras
	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		log.Error("Failed to open state database", "error", err)
		os.Exit(1)
	}
	defer stateMgr.Close()

	if recovered, err := stateMgr.RecoverState(ctx); err != nil {
		log.Warn("Failed to recover state", "error", err)
	} else {
		log.Info("Recovered state",
			"keys", len(recovered.SystemState),
			"cameras", recovered.Cameras,
		)
	}

	driver, err := camera.NewDriver(cfg.Camera, log)
	if err != nil {
		log.Error("Failed to create camera driver", "error", err)
		os.Exit(1)
	}
	session := camera.NewSession(driver, camera.SessionConfigFrom(cfg.Camera), log)
	session.SetTargetStore(stateMgr)

	client := inference.NewClient(inference.ClientConfig{
		Endpoint: cfg.Inference.Endpoint,
		Timeout:  cfg.Inference.Timeout,
	}, log)

	pres := presenter.New()

	layout := sampler.NewLayoutStore(cfg.Guide.Enabled)
	layout.SetPersister(stateMgr)
	smp := sampler.New(session, client, pres, layout, sampler.Config{
		Interval: cfg.Sampler.Interval,
	}, log)

	recorder := state.NewRecorder(stateMgr, log)

	webServer := web.NewServer(&cfg.Web, log)
	webServer.SetVersion(version)
	webServer.SetDependencies(session, smp, pres)

	svcMgr.Register(session)
	svcMgr.Register(smp)
	svcMgr.Register(recorder)
	svcMgr.Register(webServer)

	cfgSvc.Watch(func(ctx context.Context, oldConfig, newConfig *config.Config) error {
		if oldConfig.Camera != newConfig.Camera || oldConfig.Web != newConfig.Web || oldConfig.Inference != newConfig.Inference {
			log.Warn("Configuration changed, restart to apply camera, web and inference settings")
		}
		return nil
	})

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(&health.SystemChecker{})
	healthMgr.RegisterChecker(health.NewDatabaseChecker(cfg.DatabasePath()))
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.State.DataDir))
	healthMgr.RegisterChecker(health.NewInferenceChecker(client))
	healthMgr.RegisterChecker(health.NewCameraChecker(session))

	if err := healthMgr.Start(ctx, cfg); err != nil {
		log.Error("Failed to start health check server", "error", err)
		os.Exit(1)
	}

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Failed to reload configuration", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthMgr.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping health check server", "error", err)
	}

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
