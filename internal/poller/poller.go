/**
 * Event Poller for the ALPR import worker
 *
 * Two nested loops:
 * - outer: connect to the reads database, back off and reconnect forever on
 *   connectivity errors
 * - inner: fetch reads newer than the cursor in ascending time order, claim
 *   each one by advancing the cursor, resolve its images and enqueue it;
 *   persist the cursor once the whole batch is enqueued
 */

package poller

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/cursor"
	"github.com/adverant/nexus/alpr-importer/internal/errors"
	"github.com/adverant/nexus/alpr-importer/internal/images"
	"github.com/adverant/nexus/alpr-importer/internal/processor"
	"github.com/adverant/nexus/alpr-importer/internal/storage"
)

const (
	DefaultBatchSize         = 1000
	DefaultIdleInterval      = 5 * time.Second
	DefaultReconnectInterval = 15 * time.Second
)

// ReadSource is a connected reads database.
type ReadSource interface {
	images.Lister
	FetchReads(ctx context.Context, since time.Time, limit int) ([]storage.ReadEvent, error)
	Close() error
}

// Connector opens a new ReadSource.
type Connector func(ctx context.Context) (ReadSource, error)

// Enqueuer accepts recognition jobs, blocking while it is full.
type Enqueuer interface {
	Process(ctx context.Context, job *processor.Job) error
}

// Config holds poller configuration
type Config struct {
	Connect  Connector
	Resolver *images.Resolver
	Cursor   *cursor.Cursor
	Queue    Enqueuer

	// Server and User only feed log fields.
	Server string
	User   string

	BatchSize         int
	IdleInterval      time.Duration
	ReconnectInterval time.Duration

	Clock clock.Clock
	Log   zerolog.Logger
}

// Poller moves reads from the database into the recognition queue. It owns
// its cursor; nothing else may touch it while Run is active.
type Poller struct {
	config *Config
	clock  clock.Clock
	log    zerolog.Logger
}

// New creates a new poller
func New(cfg *Config) (*Poller, error) {
	if cfg.Connect == nil {
		return nil, fmt.Errorf("connector is required")
	}

	if cfg.Resolver == nil {
		return nil, fmt.Errorf("image resolver is required")
	}

	if cfg.Cursor == nil {
		return nil, fmt.Errorf("cursor is required")
	}

	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	return &Poller{
		config: cfg,
		clock:  clk,
		log:    cfg.Log,
	}, nil
}

// StoreConnector connects with storage.Open.
func StoreConnector(cfg storage.ConnectionConfig) Connector {
	return func(ctx context.Context) (ReadSource, error) {
		store, err := storage.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// Run polls until ctx is cancelled. Connectivity errors never end it.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().
		Time("last_parse", p.config.Cursor.LastParse()).
		Int("batch_size", p.config.BatchSize).
		Msg("event poller starting")

	for {
		p.log.Info().
			Str("server", p.config.Server).
			Str("auth", storage.AuthMode(p.config.User)).
			Msg("connecting to reads database")

		err := p.guardedSession(ctx)
		if ctx.Err() != nil {
			p.log.Info().Msg("event poller stopped")
			return nil
		}

		p.log.Error().
			Err(err).
			Dur("retry_in", p.config.ReconnectInterval).
			Msg("poll session ended, reconnecting")
		if !p.sleep(ctx, p.config.ReconnectInterval) {
			p.log.Info().Msg("event poller stopped")
			return nil
		}
	}
}

// guardedSession runs session and turns a panic into an error so the
// reconnect path handles it.
func (p *Poller) guardedSession(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("poll session panicked")
			err = fmt.Errorf("poll session panicked: %v", r)
		}
	}()
	return p.session(ctx)
}

// session runs the inner loop on one connection. It returns a
// DATABASE_UNAVAILABLE error on connectivity loss and nil once ctx is done.
func (p *Poller) session(ctx context.Context) error {
	source, err := p.config.Connect(ctx)
	if err != nil {
		return errors.NewDatabaseUnavailableError(p.config.Server, err)
	}
	defer source.Close()

	p.log.Info().Str("server", p.config.Server).Msg("connected to reads database")

	for {
		claimed, err := p.PollOnce(ctx, source)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if claimed == 0 && !p.sleep(ctx, p.config.IdleInterval) {
			return nil
		}
	}
}

// PollOnce fetches and enqueues one batch and returns the number of reads
// fetched. The cursor is persisted only after every read of the batch has
// been handled; an interrupted batch is rolled back and replayed.
func (p *Poller) PollOnce(ctx context.Context, source ReadSource) (int, error) {
	cur := p.config.Cursor

	reads, err := source.FetchReads(ctx, cur.LastParse(), p.config.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, errors.NewDatabaseUnavailableError(p.config.Server, err)
	}
	if len(reads) == 0 {
		return 0, nil
	}

	p.log.Debug().
		Int("reads", len(reads)).
		Time("since", cur.LastParse()).
		Msg("fetched batch")

	enqueued := 0
	for _, read := range reads {
		if read.ReadDate.After(cur.LastParse()) {
			cur.Advance(read.ReadDate)
		}

		pair, err := p.config.Resolver.Resolve(ctx, source, read.ReadID)
		if err != nil {
			if stderrors.Is(err, images.ErrNotFound) {
				continue
			}
			cur.Rollback()
			if ctx.Err() != nil {
				return len(reads), nil
			}
			return len(reads), errors.NewDatabaseUnavailableError(p.config.Server, err)
		}

		job := &processor.Job{
			ReadID:            read.ReadID,
			CameraName:        read.Camera,
			EpochTimeMs:       read.ReadDate.UnixMilli(),
			CropImagePath:     pair.CropPath,
			OverviewImagePath: pair.OverviewPath,
		}
		if err := p.config.Queue.Process(ctx, job); err != nil {
			// Replay the batch from the last saved cursor.
			cur.Rollback()
			if ctx.Err() != nil {
				return len(reads), nil
			}
			return len(reads), fmt.Errorf("failed to enqueue read %s: %w", read.ReadID, err)
		}
		enqueued++
	}

	if err := cur.Persist(); err != nil {
		p.log.Error().Err(err).Msg("failed to persist cursor")
	}

	p.log.Info().
		Int("reads", len(reads)).
		Int("enqueued", enqueued).
		Time("last_parse", cur.LastParse()).
		Msg("batch enqueued")
	return len(reads), nil
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
