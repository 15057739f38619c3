// Package app wires configuration into the pipeline components shared by the
// importer daemon and the one-shot processing tool.
package app

import (
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/clients"
	"github.com/adverant/nexus/alpr-importer/internal/config"
	"github.com/adverant/nexus/alpr-importer/internal/logging"
	"github.com/adverant/nexus/alpr-importer/internal/processor"
	"github.com/adverant/nexus/alpr-importer/internal/processor/tesseract"
	"github.com/adverant/nexus/alpr-importer/internal/queue"
	"github.com/adverant/nexus/alpr-importer/internal/storage"
)

// Bootstrap loads .env and the configuration file, creates the local
// directories and opens the process logger. The closer flushes the log.
func Bootstrap(path string) (*config.Config, zerolog.Logger, io.Closer, error) {
	// A missing .env just means the environment is already set
	envErr := godotenv.Load(".env")

	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	if err := cfg.EnsureDirs(); err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	log, closer := logging.NewLogger(logging.Options{
		File:  cfg.LogFile,
		Level: cfg.LogLevel,
	})
	if envErr != nil {
		log.Debug().Msg(".env not found, using process environment")
	}
	log.Info().
		Str("config", path).
		Str("database", cfg.DatabaseServer).
		Int("cameras", len(cfg.Cameras)).
		Int("workers", cfg.WorkerThreads).
		Msg("configuration loaded")

	return cfg, log, closer, nil
}

// ConnectionConfig returns the reads database settings of cfg.
func ConnectionConfig(cfg *config.Config) storage.ConnectionConfig {
	return storage.ConnectionConfig{
		Driver:   cfg.DatabaseDriver,
		Server:   cfg.DatabaseServer,
		Port:     cfg.DatabasePort,
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
		Database: cfg.DatabaseName,
	}
}

// NewUploadClient builds the web service client described by cfg.
func NewUploadClient(cfg *config.Config, log zerolog.Logger) (*clients.UploadClient, error) {
	return clients.NewUploadClient(&clients.UploadClientConfig{
		URL:                cfg.UploadURL,
		CompanyID:          cfg.CompanyID,
		AgentUID:           cfg.AgentUID,
		Timeout:            cfg.UploadTimeout,
		RetryInterval:      cfg.UploadRetryInterval,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		TemplatePath:       cfg.GroupTemplatePath,
		Cameras:            cfg.Cameras,
		Log:                logging.Component(log, "upload"),
	})
}

// TesseractFactory builds one Tesseract engine per worker.
func TesseractFactory(cfg *config.Config) processor.EngineFactory {
	return func() (*processor.Engine, error) {
		plates, err := tesseract.NewRecognizer(&tesseract.Config{
			Language: cfg.TesseractLanguage,
			Region:   cfg.Country,
		})
		if err != nil {
			return nil, err
		}
		return &processor.Engine{Plates: plates}, nil
	}
}

// NewPool builds and starts a recognition pool of workers workers. Zero
// uses the configured thread count.
func NewPool(cfg *config.Config, workers int, uploader queue.Uploader, log zerolog.Logger) (*queue.Pool, error) {
	if workers <= 0 {
		workers = cfg.WorkerThreads
	}
	if workers > config.MaxWorkerThreads {
		workers = config.MaxWorkerThreads
	}

	pool, err := queue.NewPool(&queue.PoolConfig{
		Workers:         workers,
		Factory:         TesseractFactory(cfg),
		Uploader:        uploader,
		Country:         cfg.Country,
		IdleInterval:    cfg.WorkerIdleInterval,
		EnqueueInterval: cfg.EnqueuePollInterval,
		Log:             logging.Component(log, "pool"),
	})
	if err != nil {
		return nil, err
	}

	if err := pool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recognition pool: %w", err)
	}
	return pool, nil
}
