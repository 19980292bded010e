package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/davidbmar/whisperX-runpod/internal/cleanup"
	"github.com/davidbmar/whisperX-runpod/internal/handlers"
	"github.com/davidbmar/whisperX-runpod/internal/queue"
	"github.com/davidbmar/whisperX-runpod/internal/registry"
	"github.com/davidbmar/whisperX-runpod/internal/storage"
	"github.com/davidbmar/whisperX-runpod/internal/transcription"
	"github.com/davidbmar/whisperX-runpod/internal/transfer"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Model       string `yaml:"model"`
		Device      string `yaml:"device"`
		ComputeType string `yaml:"compute_type"`
		BatchSize   int    `yaml:"batch_size"`
		Diarization bool   `yaml:"diarization"`
	} `yaml:"whisper"`

	Workers struct {
		Count      int `yaml:"count"`
		QueueDepth int `yaml:"queue_depth"`
	} `yaml:"workers"`

	Storage struct {
		ScratchDir string `yaml:"scratch_dir"`
		OutputDir  string `yaml:"output_dir"`
		Database   string `yaml:"database"`
	} `yaml:"storage"`

	Transfer struct {
		DownloadTimeoutSeconds int `yaml:"download_timeout_seconds"`
		UploadTimeoutSeconds   int `yaml:"upload_timeout_seconds"`
	} `yaml:"transfer"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Registry struct {
		SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
		RetentionHours       int `yaml:"retention_hours"`
	} `yaml:"registry"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

func main() {
	// Optional .env for secrets (HF token, object store credentials)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	config, err := loadConfig(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure directories exist
	if err := cleanup.EnsureDir(config.Storage.ScratchDir); err != nil {
		log.Fatalf("Failed to create scratch directory: %v", err)
	}
	if err := os.MkdirAll(config.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(config.Storage.Database), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	log.Println("Initializing components...")

	// WhisperX transcriber
	transcriber := transcription.NewWhisperXTranscriber(
		config.Whisper.Model,
		config.Whisper.Device,
		config.Whisper.ComputeType,
		config.Whisper.BatchSize,
		os.Getenv("HF_TOKEN"),
		config.Whisper.Diarization,
	)

	// Signed-URL transfer client
	transferClient := transfer.NewClient(
		time.Duration(config.Transfer.DownloadTimeoutSeconds)*time.Second,
		time.Duration(config.Transfer.UploadTimeoutSeconds)*time.Second,
	)

	// Local storage for inline-mode transcripts
	localStorage := storage.NewLocalStorage(config.Storage.OutputDir)

	// Terminal-job archive
	archive, err := storage.NewArchiveDB(config.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize archive database: %v", err)
	}
	defer archive.Close()

	// Job registry with periodic sweep of old terminal records
	reg := registry.New()
	reg.StartSweeper(
		time.Duration(config.Registry.SweepIntervalMinutes)*time.Minute,
		time.Duration(config.Registry.RetentionHours)*time.Hour,
	)
	defer reg.StopSweeper()

	// Dispatcher and worker pool
	dispatcher := queue.NewDispatcher(reg, transcriber, transferClient, localStorage, archive, queue.Config{
		Workers:    config.Workers.Count,
		QueueDepth: config.Workers.QueueDepth,
		ScratchDir: config.Storage.ScratchDir,
	})
	dispatcher.Start()

	// Cleanup scheduler for orphaned scratch files
	cleanupScheduler := cleanup.NewScheduler(
		config.Storage.ScratchDir,
		time.Duration(config.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(config.Cleanup.MaxAgeHours)*time.Hour,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: config.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	transcribeHandler := handlers.NewTranscribeHandler(dispatcher)
	uploadHandler := handlers.NewUploadHandler(dispatcher, config.Storage.ScratchDir, config.Limits.MaxFileSizeMB)
	statusHandler := handlers.NewStatusHandler(reg)
	transcriptsHandler := handlers.NewTranscriptsHandler(archive)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "healthy",
			"model":       transcriber.Model(),
			"device":      transcriber.Device(),
			"diarization": transcriber.DiarizationEnabled(),
			"queued_jobs": reg.Count(),
		})
	})

	app.Post("/transcribe", transcribeHandler.Handle)
	app.Post("/transcribe/upload", uploadHandler.Handle)
	app.Get("/status/:job_id", statusHandler.Handle)
	app.Get("/transcripts", transcriptsHandler.List)
	app.Get("/transcripts/:job_id/text", transcriptsHandler.Text)

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /transcribe              - Submit audio URL for transcription")
	log.Println("   POST /transcribe/upload       - Upload audio file directly")
	log.Println("   GET  /status/:job_id          - Poll job status")
	log.Println("   GET  /transcripts             - List finished jobs")
	log.Println("   GET  /transcripts/:job_id/text - Get stored transcript text")
	log.Println("   GET  /logs                    - View server logs")
	log.Println("   GET  /health                  - Health check")

	// Graceful shutdown: stop accepting requests, then drain the worker pool.
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	dispatcher.Stop()
	log.Println("All workers drained, goodbye")
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

// loadConfig loads configuration from YAML file
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "large-v2"
	}
	if c.Whisper.Device == "" {
		c.Whisper.Device = "cuda"
	}
	if c.Whisper.ComputeType == "" {
		c.Whisper.ComputeType = "float16"
	}
	if c.Whisper.BatchSize == 0 {
		c.Whisper.BatchSize = 16
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 2
	}
	if c.Workers.QueueDepth == 0 {
		c.Workers.QueueDepth = 100
	}
	if c.Storage.ScratchDir == "" {
		c.Storage.ScratchDir = "temp"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "outputs"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/jobs.db"
	}
	if c.Transfer.DownloadTimeoutSeconds == 0 {
		c.Transfer.DownloadTimeoutSeconds = 300
	}
	if c.Transfer.UploadTimeoutSeconds == 0 {
		c.Transfer.UploadTimeoutSeconds = 120
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 2
	}
	if c.Registry.SweepIntervalMinutes == 0 {
		c.Registry.SweepIntervalMinutes = 10
	}
	if c.Registry.RetentionHours == 0 {
		c.Registry.RetentionHours = 24
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 500
	}
}
