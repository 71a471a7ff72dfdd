package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"frigate-commander/api"
	"frigate-commander/bus"
	"frigate-commander/config"
	"frigate-commander/cron"
	"frigate-commander/database"
	"frigate-commander/frigate"
	"frigate-commander/jobs"
	"frigate-commander/metrics"
	"frigate-commander/monitoring"
	"frigate-commander/service"
	"frigate-commander/storage"

	"github.com/joho/godotenv"
)

// setupArchive connects to R2 and starts the archive worker when enabled
func setupArchive(ctx context.Context, cfg config.Config, db database.Database, engine *jobs.Engine) *service.ArchiveWorker {
	if !cfg.R2Enabled {
		log.Println("R2 archiving disabled")
		return nil
	}
	r2Storage, err := storage.NewR2Storage(storage.R2Config{
		AccessKey: cfg.R2AccessKey,
		SecretKey: cfg.R2SecretKey,
		AccountID: cfg.R2AccountID,
		Bucket:    cfg.R2Bucket,
		Endpoint:  cfg.R2Endpoint,
		Region:    cfg.R2Region,
		BaseURL:   cfg.R2BaseURL,
	})
	if err != nil {
		log.Printf("Warning: failed to initialize R2 storage, archiving disabled: %v", err)
		return nil
	}
	worker := service.NewArchiveWorker(db, r2Storage, engine.Broker())
	worker.Start(ctx)
	return worker
}

// setupNATS mirrors job snapshots to NATS and listens for cancel requests
func setupNATS(ctx context.Context, cfg config.Config, engine *jobs.Engine) *bus.Client {
	if cfg.NATSURL == "" {
		return nil
	}
	client, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		log.Printf("Warning: %v", err)
		return nil
	}
	go bus.Forward(ctx, engine.Broker().SubscribeAll(), client, cfg.NATSSubjectPrefix)
	if _, err := client.SubscribeJSON(bus.CancelSubject(cfg.NATSSubjectPrefix), bus.CancelHandler(engine.Cancel)); err != nil {
		log.Printf("Warning: %v", err)
	}
	log.Printf("[NATS] Publishing job snapshots on %s.<job id>", cfg.NATSSubjectPrefix)
	return client
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	// Load config
	cfg := config.LoadConfig()

	// Ensure all required directories exist
	config.EnsurePaths(cfg)

	// Initialize database
	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database:", err)
	}
	defer db.Close()

	logs, err := database.NewLogStore(filepath.Join(cfg.JobsDir, "logs"))
	if err != nil {
		log.Fatal("Failed to initialize job log store:", err)
	}

	// Runtime settings stored in the database override env defaults
	configManager := config.NewConfigManager(cfg)
	settings := config.NewSettingsService(db, configManager)
	if err := settings.Load(); err != nil {
		log.Printf("Warning: failed to load runtime settings: %v", err)
	}

	engine := jobs.NewEngine(db, logs, configManager)
	if _, err := engine.RecoverInterrupted(); err != nil {
		log.Printf("Warning: failed to recover interrupted jobs: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archive := setupArchive(ctx, cfg, db, engine)
	if natsClient := setupNATS(ctx, cfg, engine); natsClient != nil {
		defer natsClient.Close()
	}

	presetCron := cron.NewPresetCron(db, engine)
	if err := presetCron.Start(); err != nil {
		log.Printf("Warning: failed to start preset scheduler: %v", err)
	}
	maintenanceCron := cron.NewMaintenanceCron(configManager)
	if err := maintenanceCron.Start(); err != nil {
		log.Printf("Warning: failed to start maintenance cron: %v", err)
	}

	monitoring.StartMonitoring(5*time.Minute, cfg.OutputDir)

	collector := metrics.NewCollector()
	go collector.Run(ctx, engine.Broker().SubscribeAll(), 24*time.Hour)

	nvr := frigate.NewConnectivityChecker(func() string {
		return configManager.GetConfig().FrigateBaseURL
	}, 10*time.Second)
	nvr.StartPeriodicCheck(ctx, time.Minute, nil)
	configManager.OnChange(func(old, current config.Config) {
		if old.FrigateBaseURL != current.FrigateBaseURL {
			log.Printf("[Config] NVR base URL changed to %s", current.FrigateBaseURL)
			go nvr.Check(ctx)
		}
	})

	server := api.NewServer(configManager, db, engine, settings, presetCron, archive)
	server.SetMetrics(collector)
	server.SetConnectivity(nvr)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("API server failed:", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	presetCron.Stop()
	maintenanceCron.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down job engine: %v", err)
	}
	cancel()
	log.Println("Shutdown complete")
}
