/**
 * ALPR Importer - Main Entry Point
 *
 * Long-running daemon that moves camera reads into the recognition web
 * service.
 *
 * Architecture:
 * - Event Poller over the camera vendor's reads database (SQL Server, or
 *   PostgreSQL / SQLite for replays)
 * - Durable cursor so a restart resumes after the last claimed read
 * - Bounded in-process queue feeding a fixed pool of Tesseract workers
 * - At-least-once upload of every recognized plate
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/gnuflag"

	"github.com/adverant/nexus/alpr-importer/internal/app"
	"github.com/adverant/nexus/alpr-importer/internal/cursor"
	"github.com/adverant/nexus/alpr-importer/internal/images"
	"github.com/adverant/nexus/alpr-importer/internal/logging"
	"github.com/adverant/nexus/alpr-importer/internal/poller"
)

func main() {
	fs := gnuflag.NewFlagSet("alpr-importer", gnuflag.ExitOnError)
	configPath := fs.String("config", "", "path to import_config.ini (default $ALPR_CONFIG or config/import_config.ini)")
	_ = fs.Parse(true, os.Args[1:])

	cfg, log, closer, err := app.Bootstrap(*configPath)
	if err != nil {
		// No logger yet: configuration errors are fatal at startup
		fmt.Fprintf(os.Stderr, "alpr-importer: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	log.Info().Msg("ALPR importer starting...")

	uploader, err := app.NewUploadClient(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize upload client")
	}

	pool, err := app.NewPool(cfg, 0, uploader, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize recognition pool")
	}

	cur := cursor.Load(cfg.StateFile, nil)
	p, err := poller.New(&poller.Config{
		Connect:           poller.StoreConnector(app.ConnectionConfig(cfg)),
		Resolver:          images.NewResolver(cfg.BaseImagePath, logging.Component(log, "images")),
		Cursor:            cur,
		Queue:             pool,
		Server:            cfg.DatabaseServer,
		User:              cfg.DatabaseUser,
		BatchSize:         cfg.BatchSize,
		IdleInterval:      cfg.IdlePollInterval,
		ReconnectInterval: cfg.ReconnectInterval,
		Log:               logging.Component(log, "poller"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize event poller")
	}

	log.Info().
		Str("state_file", cfg.StateFile).
		Time("last_parse", cur.LastParse()).
		Int("workers", cfg.WorkerThreads).
		Int("max_queue_size", pool.MaxQueueSize()).
		Msg("ALPR importer is READY")

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		log.Error().Err(err).Msg("event poller exited")
	}

	log.Info().Msg("shutdown signal received, stopping workers...")
	pool.Stop()

	log.Info().Msg("shutdown complete")
}
