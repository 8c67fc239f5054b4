package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/maauso/clip-worker/internal/clip"
	"github.com/maauso/clip-worker/internal/fault"
	"github.com/maauso/clip-worker/internal/media"
	"github.com/maauso/clip-worker/internal/metrics"
	"github.com/maauso/clip-worker/internal/queue"
	"github.com/maauso/clip-worker/internal/scratch"
	"github.com/maauso/clip-worker/internal/storage"
)

// processMessage handles one delivery. The message is acknowledged when the
// job completes or can never run; otherwise it is left for redelivery.
// A failed run marks the record failed, and a failed record is only
// acknowledged on redelivery, so retryability is informational here: it is
// logged but never triggers a second attempt.
func (d *Dispatcher) processMessage(ctx context.Context, msg queue.Message) {
	jobID := msg.Body.JobID
	logger := d.logger.With(
		slog.String("job_id", jobID),
		slog.String("message_id", msg.ID),
	)

	c, err := d.clips.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, clip.ErrClipNotFound) {
			logger.Error("job not found in database")
			d.acknowledge(ctx, logger, msg, metrics.OutcomeSkipped)
			return
		}
		logger.Error("failed to load clip record", slog.String("error", err.Error()))
		d.metrics.JobsTotal.WithLabelValues(metrics.OutcomeRetry).Inc()
		return
	}

	if c.Status.IsTerminal() {
		logger.Info("job already finished, acknowledging redelivery", slog.String("status", string(c.Status)))
		d.acknowledge(ctx, logger, msg, metrics.OutcomeSkipped)
		return
	}

	if d.cfg.MaxReceiveCount > 0 && msg.ReceiveCount > d.cfg.MaxReceiveCount {
		d.abandon(ctx, logger, msg)
		return
	}

	start := time.Now()
	err = d.runJob(ctx, logger, msg, c)
	d.metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, clip.ErrInvalidTransition) {
			// Another delivery finished the job while this one was starting.
			logger.Info("job finished elsewhere, acknowledging")
			d.acknowledge(ctx, logger, msg, metrics.OutcomeSkipped)
			return
		}
		logger.Warn("message left for redelivery", slog.Bool("retryable", fault.IsRetryable(err)))
		d.metrics.JobsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return
	}

	d.acknowledge(ctx, logger, msg, metrics.OutcomeCompleted)
}

// runJob moves the record through processing to completed, or to failed
// with the error message.
func (d *Dispatcher) runJob(ctx context.Context, logger *slog.Logger, msg queue.Message, c *clip.Clip) error {
	body := msg.Body
	logger.Info("starting job processing",
		slog.String("url", body.SourceURL),
		slog.Int("start_time", body.StartTime),
		slog.Int("end_time", body.EndTime),
	)

	stopHeartbeat := d.startHeartbeat(ctx, logger, msg.ReceiptHandle)
	defer stopHeartbeat()

	dir, err := d.workspace.Create(body.JobID)
	if err != nil {
		return d.fail(ctx, logger, body.JobID, fault.Processing(fmt.Sprintf("Failed to create scratch directory: %v", err), err))
	}
	defer func() {
		if err := d.workspace.Remove(dir); err != nil {
			logger.Warn("failed to remove scratch directory", slog.String("error", err.Error()))
		}
	}()

	if err := d.clips.MarkProcessing(ctx, body.JobID); err != nil {
		if errors.Is(err, clip.ErrInvalidTransition) {
			return err
		}
		return d.fail(ctx, logger, body.JobID, err)
	}

	logger.Info("downloading video clip")
	res, err := d.acquirer.Download(ctx, media.Request{
		JobID:      body.JobID,
		SourceURL:  body.SourceURL,
		Start:      body.StartTime,
		End:        body.EndTime,
		OutputPath: scratch.OutputPath(dir, body.JobID, d.cfg.Format),
	})
	if err != nil {
		return d.fail(ctx, logger, body.JobID, err)
	}
	logger.Info("video downloaded successfully",
		slog.Int64("file_size", res.Size),
		slog.Int("duration", res.Duration),
	)

	// Keyed on the record's creation date so a redelivery overwrites
	// the same object.
	key := storage.ClipKey(body.JobID, d.cfg.Format, c.CreatedAt)
	logger.Info("uploading artifact", slog.String("key", key))

	size, err := d.store.Upload(ctx, res.Path, key, storage.ContentType(d.cfg.Format))
	if err != nil {
		return d.fail(ctx, logger, body.JobID, err)
	}

	err = d.clips.MarkCompleted(ctx, body.JobID, clip.Result{
		ArtifactKey: key,
		FileSize:    size,
		Duration:    res.Duration,
	})
	if err != nil {
		if errors.Is(err, clip.ErrInvalidTransition) {
			return err
		}
		// The record will not carry the key, so the reaper could never
		// find this object.
		if delErr := d.store.Delete(ctx, key); delErr != nil {
			logger.Warn("failed to delete unrecorded artifact",
				slog.String("key", key),
				slog.String("error", delErr.Error()),
			)
		}
		return d.fail(ctx, logger, body.JobID, err)
	}

	logger.Info("job completed successfully", slog.String("key", key), slog.Int64("file_size", size))
	return nil
}

// fail records err on the clip and returns it.
func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, jobID string, err error) error {
	logger.Error("job processing failed",
		slog.String("error", err.Error()),
		slog.String("code", fault.KindOf(err).Code()),
		slog.Bool("retryable", fault.IsRetryable(err)),
	)

	if markErr := d.clips.MarkFailed(ctx, jobID, err.Error()); markErr != nil {
		logger.Error("failed to record job failure", slog.String("error", markErr.Error()))
	}
	return err
}

// abandon gives up on a message delivered too many times.
func (d *Dispatcher) abandon(ctx context.Context, logger *slog.Logger, msg queue.Message) {
	reason := fmt.Sprintf("Job exceeded maximum delivery attempts (%d)", d.cfg.MaxReceiveCount)
	logger.Warn("abandoning message",
		slog.Int("receive_count", msg.ReceiveCount),
		slog.Int("max_receive_count", d.cfg.MaxReceiveCount),
	)

	if err := d.clips.MarkFailed(ctx, msg.Body.JobID, reason); err != nil && !errors.Is(err, clip.ErrInvalidTransition) {
		logger.Error("failed to record job failure", slog.String("error", err.Error()))
		d.metrics.JobsTotal.WithLabelValues(metrics.OutcomeRetry).Inc()
		return
	}
	d.acknowledge(ctx, logger, msg, metrics.OutcomeAbandoned)
}

func (d *Dispatcher) acknowledge(ctx context.Context, logger *slog.Logger, msg queue.Message, outcome string) {
	d.metrics.JobsTotal.WithLabelValues(outcome).Inc()
	if err := d.queue.Acknowledge(ctx, msg.ReceiptHandle); err != nil {
		logger.Error("failed to delete message from queue", slog.String("error", err.Error()))
		return
	}
	logger.Info("message deleted from queue")
}

// startHeartbeat extends the message's visibility at half the extension
// period until the returned stop function is called.
func (d *Dispatcher) startHeartbeat(ctx context.Context, logger *slog.Logger, receiptHandle string) func() {
	ext := d.cfg.VisibilityExtension
	if ext <= 0 {
		return func() {}
	}

	seconds := int(math.Ceil(ext.Seconds()))
	interval := ext / 2
	stop := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := d.queue.ExtendVisibility(ctx, receiptHandle, seconds); err != nil {
					logger.Warn("failed to extend message visibility", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-stopped
	}
}
