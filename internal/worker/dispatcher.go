// Package worker provides the Dispatcher: it polls the job queue, runs clip
// jobs concurrently up to a limit and drains them on shutdown.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/clip-worker/internal/clip"
	"github.com/maauso/clip-worker/internal/media"
	"github.com/maauso/clip-worker/internal/metrics"
	"github.com/maauso/clip-worker/internal/queue"
	"github.com/maauso/clip-worker/internal/storage"
)

// Default settings.
const (
	DefaultConcurrency     = 2
	DefaultBatchSize       = 1
	DefaultPollInterval    = 5 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	drainCheckInterval = time.Second
)

var (
	// ErrAlreadyRunning is returned when Run is called on a running dispatcher.
	ErrAlreadyRunning = errors.New("worker: dispatcher already running")
	// ErrForcedShutdown is returned when jobs are still running after the
	// shutdown timeout.
	ErrForcedShutdown = errors.New("worker: forced shutdown with active jobs")
)

// State is the lifecycle state of the polling loop.
type State int

const (
	// StateIdle means the loop is not running.
	StateIdle State = iota
	// StateRunning means the loop is polling.
	StateRunning
	// StateStopping means no new polls start; the current batch finishes.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Workspace provides per-job scratch directories.
// *scratch.Area implements it.
type Workspace interface {
	Create(jobID string) (string, error)
	Remove(dir string) error
}

// Config holds the dispatcher settings.
type Config struct {
	// Concurrency is the maximum number of jobs running at once.
	Concurrency int
	// BatchSize caps the messages requested per poll.
	BatchSize int
	// PollInterval is the pause between polls.
	PollInterval time.Duration
	// ShutdownTimeout bounds the drain.
	ShutdownTimeout time.Duration
	// MaxReceiveCount abandons a message delivered more often than this. Zero disables it.
	MaxReceiveCount int
	// VisibilityExtension is applied periodically while a job runs. Zero disables it.
	VisibilityExtension time.Duration
	// Format is the output container.
	Format string
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Format == "" {
		c.Format = storage.DefaultFormat
	}
}

// Stats is a snapshot of dispatcher capacity.
type Stats struct {
	ActiveJobs     int    `json:"active_jobs"`
	Concurrency    int    `json:"concurrency"`
	AvailableSlots int    `json:"available_slots"`
	State          string `json:"state"`
}

// Dispatcher runs clip jobs received from the queue.
type Dispatcher struct {
	queue     queue.Client
	clips     clip.Repository
	acquirer  media.Acquirer
	store     storage.Store
	workspace Workspace
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	active *activeSet

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// New creates a Dispatcher. A nil logger uses slog.Default and nil metrics
// are registered nowhere.
func New(
	q queue.Client,
	clips clip.Repository,
	acquirer media.Acquirer,
	store storage.Store,
	workspace Workspace,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{
		queue:     q,
		clips:     clips,
		acquirer:  acquirer,
		store:     store,
		workspace: workspace,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		active:    newActiveSet(cfg.Concurrency),
	}
}

// Stats returns the current capacity snapshot.
func (d *Dispatcher) Stats() Stats {
	active := d.active.Len()
	return Stats{
		ActiveJobs:     active,
		Concurrency:    d.cfg.Concurrency,
		AvailableSlots: d.cfg.Concurrency - active,
		State:          d.State().String(),
	}
}

// State returns the loop state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Poll performs one tick: it receives as many messages as there are free
// slots and runs them, returning when all of them have finished.
func (d *Dispatcher) Poll(ctx context.Context) error {
	slots := d.cfg.Concurrency - d.active.Len()
	if slots <= 0 {
		d.logger.Debug("no available processing slots",
			slog.Int("concurrency", d.cfg.Concurrency),
			slog.Int("active_jobs", d.active.Len()),
		)
		return nil
	}

	want := min(slots, d.cfg.BatchSize)
	messages, err := d.queue.Receive(ctx, want)
	if err != nil {
		d.metrics.PollErrorsTotal.Inc()
		d.logger.Error("error polling messages", slog.String("error", err.Error()))
		return err
	}
	if len(messages) == 0 {
		d.logger.Debug("no messages in queue")
		return nil
	}

	d.logger.Info("processing messages", slog.Int("count", len(messages)))

	// Jobs outlive the loop's context so shutdown never kills a running tool.
	jobCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, msg := range messages {
		jobID := msg.Body.JobID
		if err := d.active.TryAcquire(jobID); err != nil {
			// Left unacknowledged; the queue redelivers it after the visibility timeout.
			d.logger.Warn("message not started",
				slog.String("job_id", jobID),
				slog.String("message_id", msg.ID),
				slog.String("reason", err.Error()),
			)
			continue
		}

		d.metrics.ActiveJobs.Inc()
		wg.Add(1)
		go func(msg queue.Message) {
			defer wg.Done()
			defer func() {
				d.active.Release(msg.Body.JobID)
				d.metrics.ActiveJobs.Dec()
			}()
			d.processMessage(jobCtx, msg)
		}(msg)
	}
	wg.Wait()

	return nil
}

// Run polls until ctx is done or Shutdown is called. Each poll finishes its
// batch before the next one is scheduled. Run returns as soon as it is
// stopped, without waiting for the batch in flight; Shutdown does the
// waiting, bounded by its timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.state = StateRunning
	d.active.reopen()
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	stop, done := d.stop, d.done
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
		close(done)
	}()

	d.logger.Info("starting job processor",
		slog.Int("concurrency", d.cfg.Concurrency),
		slog.Duration("poll_interval", d.cfg.PollInterval),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-timer.C:
		}

		polled := make(chan struct{})
		go func() {
			defer close(polled)
			_ = d.Poll(ctx)
		}()

		select {
		case <-polled:
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		}
		timer.Reset(d.cfg.PollInterval)
	}
}

// Shutdown stops scheduling polls, refuses new jobs and waits for running
// ones, bounded by the configured timeout and ctx. When jobs remain it logs a forced
// shutdown and returns ErrForcedShutdown.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.logger.Info("shutting down job processor")

	d.mu.Lock()
	done := d.done
	if d.state == StateRunning {
		d.state = StateStopping
		close(d.stop)
	}
	d.mu.Unlock()

	// A poll still receiving when the loop stopped must not start jobs
	// after the drain has been reported.
	d.active.close()

	timeout := time.NewTimer(d.cfg.ShutdownTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(drainCheckInterval)
	defer ticker.Stop()

	for {
		loopDone := done == nil
		if !loopDone {
			select {
			case <-done:
				loopDone = true
			default:
			}
		}
		if loopDone && d.active.Len() == 0 {
			d.logger.Info("job processor shut down")
			return nil
		}

		select {
		case <-ticker.C:
			d.logger.Info("waiting for active jobs to complete", slog.Int("active_jobs", d.active.Len()))
		case <-done:
			done = nil
		case <-timeout.C:
			d.logger.Warn("forced shutdown with active jobs", slog.Int("active_jobs", d.active.Len()))
			return ErrForcedShutdown
		case <-ctx.Done():
			d.logger.Warn("forced shutdown with active jobs", slog.Int("active_jobs", d.active.Len()))
			return ErrForcedShutdown
		}
	}
}
