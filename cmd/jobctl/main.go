package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"frigate-commander/config"
	"frigate-commander/cron"
	"frigate-commander/database"
	"frigate-commander/jobs"
	"frigate-commander/service"
	"frigate-commander/storage"
)

func main() {
	action := flag.String("action", "list", "Action to perform: list, show, logs, recover, archive, sweep")
	jobID := flag.String("id", "", "Job ID (required for show/logs, optional for archive)")
	status := flag.String("status", "", "Filter list by status")
	kind := flag.String("type", "", "Filter list by job type")
	camera := flag.String("camera", "", "Filter list by camera")
	limit := flag.Int("limit", 50, "Maximum number of jobs to list")
	tail := flag.Int("tail", 200, "Number of log lines to show")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: .env file not found at %s, using environment variables", *envFile)
	}
	cfg := config.LoadConfig()

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	logs, err := database.NewLogStore(filepath.Join(cfg.JobsDir, "logs"))
	if err != nil {
		log.Fatalf("Failed to open job logs: %v", err)
	}

	switch *action {
	case "list":
		listJobs(db, database.JobFilter{
			Status: database.JobStatus(*status),
			Kind:   database.JobKind(*kind),
			Camera: *camera,
			Limit:  *limit,
		})
	case "show":
		requireID(*jobID, "show")
		showJob(db, *jobID)
	case "logs":
		requireID(*jobID, "logs")
		showLogs(logs, *jobID, *tail)
	case "recover":
		// Only safe while the server is stopped: every running job is failed.
		engine := jobs.NewEngine(db, logs, config.NewConfigManager(cfg))
		n, err := engine.RecoverInterrupted()
		if err != nil {
			log.Fatalf("Failed to recover jobs: %v", err)
		}
		fmt.Printf("Marked %d interrupted jobs as failed\n", n)
	case "archive":
		archiveJobs(cfg, db, *jobID)
	case "sweep":
		res := cron.NewMaintenanceCron(config.NewConfigManager(cfg)).Sweep(time.Now())
		fmt.Println("=== Sweep ===")
		fmt.Printf("Frame cache files: %d\n", res.FrameCacheFiles)
		fmt.Printf("Artifact dirs:     %d\n", res.ArtifactDirs)
		fmt.Printf("Concat lists:      %d\n", res.ConcatLists)
	default:
		fmt.Printf("Unknown action: %s\n", *action)
		flag.Usage()
		os.Exit(1)
	}
}

func requireID(id, action string) {
	if id == "" {
		fmt.Printf("Error: -id is required for %s action\n", action)
		flag.Usage()
		os.Exit(1)
	}
}

func listJobs(db database.Database, filter database.JobFilter) {
	fmt.Println("=== Jobs ===")

	list, err := db.ListJobs(filter)
	if err != nil {
		log.Fatalf("Failed to list jobs: %v", err)
	}
	if len(list) == 0 {
		fmt.Println("No jobs found")
		return
	}
	for _, job := range list {
		fmt.Printf("%-12s %-16s %-10s %-12s %5.1f%%  %s\n",
			job.ID, job.Kind, job.Status, job.Camera, job.Progress.Percent,
			job.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func showJob(db database.Database, id string) {
	job, err := db.GetJob(id)
	if err != nil {
		log.Fatalf("Failed to load job: %v", err)
	}
	if job == nil {
		fmt.Printf("Job not found: %s\n", id)
		os.Exit(1)
	}

	fmt.Println("=== Job ===")
	fmt.Printf("ID:        %s\n", job.ID)
	fmt.Printf("Type:      %s\n", job.Kind)
	fmt.Printf("Status:    %s\n", job.Status)
	fmt.Printf("Camera:    %s\n", job.Camera)
	fmt.Printf("Created:   %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("Started:   %s\n", job.StartedAt.Local().Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", job.CompletedAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("Progress:  %.1f%% %s %s\n", job.Progress.Percent, job.Progress.Phase, job.Progress.Message)
	fmt.Printf("Arguments: %s\n", string(job.Arguments))
	if job.OutputFile != "" {
		fmt.Printf("Output:    %s\n", job.OutputFile)
	}
	if job.ArchiveURL != "" {
		fmt.Printf("Archive:   %s\n", job.ArchiveURL)
	}
	if job.Error != "" {
		fmt.Printf("Error:     %s\n", job.Error)
	}
}

func showLogs(logs *database.LogStore, id string, n int) {
	lines, err := logs.Tail(id, n)
	if err != nil {
		log.Fatalf("Failed to read log: %v", err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}

// archiveJobs uploads one job's output, or every completed job without an archive URL
func archiveJobs(cfg config.Config, db database.Database, id string) {
	if cfg.R2AccessKey == "" || cfg.R2SecretKey == "" {
		log.Fatal("Error: R2 credentials not set in environment variables")
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
		log.Fatalf("Failed to initialize R2 storage: %v", err)
	}
	worker := service.NewArchiveWorker(db, r2Storage, jobs.NewBroker())

	var targets []database.Job
	if id != "" {
		job, err := db.GetJob(id)
		if err != nil || job == nil {
			log.Fatalf("Job not found: %s", id)
		}
		if job.Status != database.StatusCompleted {
			log.Fatalf("Job %s is %s, only completed jobs can be archived", id, job.Status)
		}
		targets = append(targets, *job)
	} else {
		completed, err := db.GetJobsByStatus(database.StatusCompleted)
		if err != nil {
			log.Fatalf("Failed to list completed jobs: %v", err)
		}
		for _, job := range completed {
			if job.ArchiveURL == "" && job.OutputFile != "" {
				targets = append(targets, job)
			}
		}
	}

	failed := 0
	for _, job := range targets {
		url, err := worker.Archive(job)
		if err != nil {
			log.Printf("Failed to archive job %s: %v", job.ID, err)
			failed++
			continue
		}
		if url != "" {
			fmt.Printf("%s -> %s\n", job.ID, url)
		}
	}
	fmt.Printf("Archived %d of %d jobs\n", len(targets)-failed, len(targets))
	if failed > 0 {
		os.Exit(1)
	}
}
