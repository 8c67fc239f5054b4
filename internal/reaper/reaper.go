// Package reaper reclaims expired clips and their artifacts, and sweeps
// scratch directories left behind by crashed runs.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/clip-worker/internal/clip"
	"github.com/maauso/clip-worker/internal/metrics"
	"github.com/maauso/clip-worker/internal/storage"
)

// Default settings.
const (
	DefaultInterval        = time.Hour
	DefaultBatchSize       = 100
	DefaultScratchInterval = 6 * time.Hour
	DefaultScratchMaxAge   = 24 * time.Hour
)

// Sweeper removes stale scratch directories.
// *scratch.Area implements it.
type Sweeper interface {
	Sweep(maxAge time.Duration, now time.Time) (int, error)
}

// Config holds the reaper settings.
type Config struct {
	// Interval is the period of expired clip reclamation.
	Interval time.Duration
	// BatchSize caps the clips reclaimed per pass.
	BatchSize int
	// ScratchInterval is the period of the scratch sweep.
	ScratchInterval time.Duration
	// ScratchMaxAge is the age after which a scratch directory is stale.
	ScratchMaxAge time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ScratchInterval <= 0 {
		c.ScratchInterval = DefaultScratchInterval
	}
	if c.ScratchMaxAge <= 0 {
		c.ScratchMaxAge = DefaultScratchMaxAge
	}
}

// Result summarizes one reclamation pass.
type Result struct {
	Expired   int
	Reclaimed int
	Errors    int
}

// Reaper runs the periodic cleanup tasks.
type Reaper struct {
	clips   clip.Repository
	store   storage.Store
	sweeper Sweeper
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	// Passes of the same task never overlap.
	reclaimMu sync.Mutex
	sweepMu   sync.Mutex
}

// New creates a Reaper.
func New(clips clip.Repository, store storage.Store, sweeper Sweeper, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Reaper {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Reaper{
		clips:   clips,
		store:   store,
		sweeper: sweeper,
		metrics: m,
		logger:  logger.With(slog.String("component", "reaper")),
		cfg:     cfg,
		now:     time.Now,
	}
}

// ReclaimExpired deletes up to BatchSize expired clips. For each clip the
// artifact is deleted first; a failed artifact delete is logged and the
// record is deleted anyway. A failed record delete is logged and counted,
// and the pass continues.
func (r *Reaper) ReclaimExpired(ctx context.Context) (Result, error) {
	r.reclaimMu.Lock()
	defer r.reclaimMu.Unlock()

	r.logger.Info("starting cleanup of expired clips")

	expired, err := r.clips.ListExpired(ctx, r.now().UTC(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("cleanup failed", slog.String("error", err.Error()))
		return Result{}, err
	}
	if len(expired) == 0 {
		r.logger.Info("no expired clips to clean up")
		return Result{}, nil
	}

	res := Result{Expired: len(expired)}
	for _, e := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		logger := r.logger.With(slog.String("clip_id", e.ID))
		if e.ArtifactKey != "" {
			if err := r.store.Delete(ctx, e.ArtifactKey); err != nil {
				logger.Warn("failed to delete artifact",
					slog.String("key", e.ArtifactKey),
					slog.String("error", err.Error()),
				)
			} else {
				logger.Debug("deleted artifact", slog.String("key", e.ArtifactKey))
			}
		}

		if err := r.clips.Delete(ctx, e.ID); err != nil {
			logger.Error("failed to cleanup clip", slog.String("error", err.Error()))
			r.metrics.ReclaimErrorsTotal.Inc()
			res.Errors++
			continue
		}
		logger.Debug("deleted clip record")
		r.metrics.ClipsReclaimedTotal.Inc()
		res.Reclaimed++
	}

	r.logger.Info("cleanup completed",
		slog.Int("total_expired", res.Expired),
		slog.Int("cleaned", res.Reclaimed),
		slog.Int("errors", res.Errors),
	)
	return res, nil
}

// SweepScratch removes scratch directories older than ScratchMaxAge.
func (r *Reaper) SweepScratch(_ context.Context) (int, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	r.logger.Info("cleaning up old temporary directories")

	removed, err := r.sweeper.Sweep(r.cfg.ScratchMaxAge, r.now())
	r.metrics.ScratchDirsRemovedTotal.Add(float64(removed))
	if err != nil {
		r.logger.Error("failed to cleanup temp directories", slog.String("error", err.Error()))
		return removed, err
	}

	r.logger.Info("temporary directories cleanup completed", slog.Int("removed", removed))
	return removed, nil
}

// RunOnce runs both tasks once.
func (r *Reaper) RunOnce(ctx context.Context) {
	_, _ = r.ReclaimExpired(ctx)
	_, _ = r.SweepScratch(ctx)
}

// Run runs both tasks immediately and then on their own intervals until
// ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("starting cleanup service",
		slog.Duration("clip_cleanup_interval", r.cfg.Interval),
		slog.Duration("temp_cleanup_interval", r.cfg.ScratchInterval),
	)

	r.RunOnce(ctx)

	reclaim := time.NewTicker(r.cfg.Interval)
	defer reclaim.Stop()
	sweep := time.NewTicker(r.cfg.ScratchInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cleanup service stopped")
			return
		case <-reclaim.C:
			_, _ = r.ReclaimExpired(ctx)
		case <-sweep.C:
			_, _ = r.SweepScratch(ctx)
		}
	}
}
