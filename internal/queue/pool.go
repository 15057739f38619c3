/**
 * Recognition worker pool for the ALPR import worker
 *
 * A fixed set of workers shares one bounded FIFO queue. Each worker owns a
 * private recognizer engine; engines are never shared. Enqueue blocks while
 * the queue holds MaxQueueSize jobs, which throttles the poller to the
 * recognition throughput. Queued jobs are not preserved across shutdown.
 */

package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/errors"
	"github.com/adverant/nexus/alpr-importer/internal/processor"
)

// QueueFactor sizes the queue relative to the worker count.
const QueueFactor = 3

// Uploader delivers one recognition result.
type Uploader interface {
	Upload(ctx context.Context, cameraName string, epochMs int64, result *processor.Result) error
}

// PoolConfig holds pool configuration
type PoolConfig struct {
	Workers  int
	Factory  processor.EngineFactory
	Uploader Uploader
	Country  string

	// IdleInterval is how often an idle worker rechecks its stop flag.
	IdleInterval time.Duration
	// EnqueueInterval is how often a blocked enqueuer reports that it is
	// still waiting for space.
	EnqueueInterval time.Duration

	Clock clock.Clock
	Log   zerolog.Logger
}

// Stats is a snapshot of the pool counters
type Stats struct {
	Queued    int64 `json:"queued"`
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Uploaded  int64 `json:"uploaded"`
}

// Pool runs recognition jobs on a fixed set of workers
type Pool struct {
	config *PoolConfig
	jobs   chan *processor.Job
	clock  clock.Clock
	log    zerolog.Logger

	// ctx is cancelled on Deactivate and aborts in-flight uploads.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started  atomic.Bool
	workerID atomic.Int32

	queued    atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	uploaded  atomic.Int64
}

// NewPool creates a new pool. Workers are not started until Start.
func NewPool(cfg *PoolConfig) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}

	if cfg.Factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}

	if cfg.Uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}

	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 250 * time.Millisecond
	}
	if cfg.EnqueueInterval <= 0 {
		cfg.EnqueueInterval = 100 * time.Millisecond
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config: cfg,
		jobs:   make(chan *processor.Job, cfg.Workers*QueueFactor),
		clock:  clk,
		log:    cfg.Log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start builds one engine per worker and starts the workers. If any engine
// fails to build, no worker is started.
func (p *Pool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pool already started")
	}

	type slot struct {
		engine *processor.Engine
		proc   *processor.Processor
	}
	slots := make([]slot, 0, p.config.Workers)
	for i := 0; i < p.config.Workers; i++ {
		engine, err := p.config.Factory()
		var proc *processor.Processor
		if err == nil {
			proc, err = processor.NewProcessor(&processor.ProcessorConfig{
				Engine:  engine,
				Country: p.config.Country,
				Log:     p.log,
			})
			if err != nil && engine != nil {
				engine.Close()
			}
		}
		if err != nil {
			for _, s := range slots {
				s.engine.Close()
			}
			p.cancel()
			return fmt.Errorf("failed to build recognizer for worker %d: %w", i, err)
		}
		slots = append(slots, slot{engine: engine, proc: proc})
	}

	for _, s := range slots {
		id := int(p.workerID.Add(1))
		p.wg.Add(1)
		go p.worker(id, s.engine, s.proc)
	}

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("max_queue_size", p.MaxQueueSize()).
		Msg("recognition pool started")
	return nil
}

// Process enqueues job, blocking while the queue is full. It returns an
// error only when ctx is cancelled or the pool is deactivated.
func (p *Pool) Process(ctx context.Context, job *processor.Job) error {
	for {
		if p.ctx.Err() != nil {
			return fmt.Errorf("pool is deactivated")
		}
		select {
		case p.jobs <- job:
			p.queued.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return fmt.Errorf("pool is deactivated")
		case <-p.clock.After(p.config.EnqueueInterval):
			p.log.Debug().
				Int("queue_len", p.QueueLen()).
				Str("read_id", job.ReadID).
				Msg("queue full, waiting for a free slot")
		}
	}
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int {
	return len(p.jobs)
}

// MaxQueueSize is the enqueue bound.
func (p *Pool) MaxQueueSize() int {
	return cap(p.jobs)
}

// Deactivate asks every worker to stop after its current job. Queued jobs
// are discarded.
func (p *Pool) Deactivate() {
	p.cancel()
}

// Join blocks until every worker has exited.
func (p *Pool) Join() {
	p.wg.Wait()
}

// Stop deactivates and joins the pool.
func (p *Pool) Stop() {
	p.log.Info().Int("discarded", p.QueueLen()).Msg("stopping recognition pool")
	p.Deactivate()
	p.Join()
	p.log.Info().Interface("stats", p.Stats()).Msg("recognition pool stopped")
}

// Drain blocks until every enqueued job has finished or ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		s := p.Stats()
		if s.Skipped+s.Failed+s.Uploaded >= s.Queued {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.config.IdleInterval):
		}
	}
}

// Stats returns the pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    p.queued.Load(),
		Processed: p.processed.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
		Uploaded:  p.uploaded.Load(),
	}
}

// worker is a goroutine that processes jobs
func (p *Pool) worker(id int, engine *processor.Engine, proc *processor.Processor) {
	defer p.wg.Done()
	defer engine.Close()

	log := p.log.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		default:
		}

		select {
		case <-p.ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case job := <-p.jobs:
			p.handle(log, proc, job)
		case <-p.clock.After(p.config.IdleInterval):
		}
	}
}

// handle runs one job. Failures are logged and never terminate the worker.
func (p *Pool) handle(log zerolog.Logger, proc *processor.Processor, job *processor.Job) {
	startTime := time.Now()
	log = log.With().
		Str("read_id", job.ReadID).
		Str("camera", job.CameraName).
		Int64("epoch_time_ms", job.EpochTimeMs).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panicked")
		}
	}()

	result, err := proc.Process(p.ctx, job)
	if err != nil {
		if errors.IsCode(err, errors.ErrorNoPlate) {
			p.skipped.Add(1)
			log.Info().Msg("no plate found, skipping upload")
			return
		}
		p.failed.Add(1)
		log.Error().Err(err).Msg("recognition failed")
		return
	}
	p.processed.Add(1)

	if err := p.config.Uploader.Upload(p.ctx, job.CameraName, job.EpochTimeMs, result); err != nil {
		if errors.IsCode(err, errors.ErrorUnknownCamera) {
			p.skipped.Add(1)
			log.Warn().Err(err).Msg("camera not configured, skipping upload")
			return
		}
		p.failed.Add(1)
		log.Error().Err(err).Msg("upload failed")
		return
	}
	p.uploaded.Add(1)

	log.Info().
		Str("plate", result.Best().Plate).
		Dur("duration", time.Since(startTime)).
		Msg("job completed")
}
