package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/maauso/clip-worker/internal/fault"
)

// Compile-time check that Downloader implements Acquirer.
var _ Acquirer = (*Downloader)(nil)

const (
	// DefaultMaxDuration is the longest clip accepted, in seconds.
	DefaultMaxDuration = 600
	// DefaultFormat is the output container.
	DefaultFormat = "mp4"

	videoFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
)

// Downloader implements Acquirer with yt-dlp. It asks yt-dlp to fetch only
// the requested section and cut at keyframes, re-encoding with ffmpeg.
type Downloader struct {
	ytdlpPath   string
	ffmpegPath  string
	ffprobePath string
	maxDuration int
	format      string
	run         runner
	logger      *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithYTDLPPath sets the yt-dlp binary.
func WithYTDLPPath(path string) Option {
	return func(d *Downloader) {
		if path != "" {
			d.ytdlpPath = path
		}
	}
}

// WithFFmpegPath sets the ffmpeg binary. A non-default path is passed to
// yt-dlp as --ffmpeg-location.
func WithFFmpegPath(path string) Option {
	return func(d *Downloader) {
		if path != "" {
			d.ffmpegPath = path
		}
	}
}

// WithFFprobePath sets the ffprobe binary.
func WithFFprobePath(path string) Option {
	return func(d *Downloader) {
		if path != "" {
			d.ffprobePath = path
		}
	}
}

// WithMaxDuration sets the longest accepted clip in seconds.
func WithMaxDuration(seconds int) Option {
	return func(d *Downloader) {
		if seconds > 0 {
			d.maxDuration = seconds
		}
	}
}

// WithFormat sets the output container.
func WithFormat(format string) Option {
	return func(d *Downloader) {
		if format != "" {
			d.format = format
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func withRunner(r runner) Option {
	return func(d *Downloader) {
		d.run = r
	}
}

// NewDownloader creates a Downloader. Tool binaries default to the names
// found via PATH.
func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{
		ytdlpPath:   "yt-dlp",
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		maxDuration: DefaultMaxDuration,
		format:      DefaultFormat,
		run:         execRun,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Format returns the output container.
func (d *Downloader) Format() string {
	return d.format
}

// Validate checks the requested range.
func (d *Downloader) Validate(start, end int) error {
	if start < 0 {
		return fault.Validation("Start time cannot be negative")
	}
	if end <= start {
		return fault.Validation("End time must be greater than start time")
	}
	duration := end - start
	if duration > d.maxDuration {
		return fault.Validation(fmt.Sprintf(
			"Clip duration (%ds) exceeds maximum allowed duration (%ds)", duration, d.maxDuration))
	}
	if duration < 1 {
		return fault.Validation("Clip duration must be at least 1 second")
	}
	return nil
}

// Download fetches req's range into req.OutputPath.
func (d *Downloader) Download(ctx context.Context, req Request) (Result, error) {
	if err := d.Validate(req.Start, req.End); err != nil {
		return Result{}, err
	}

	logger := d.logger.With(slog.String("job_id", req.JobID))
	logger.Info("starting video download",
		slog.String("url", req.SourceURL),
		slog.Int("start_time", req.Start),
		slog.Int("end_time", req.End),
	)

	if _, err := d.run(ctx, d.ytdlpPath, d.downloadArgs(req)...); err != nil {
		removePartial(req.OutputPath)
		ferr := classify(err)
		logger.Error("video download failed",
			slog.String("error", err.Error()),
			slog.Bool("retryable", fault.IsRetryable(ferr)),
		)
		return Result{}, ferr
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		removePartial(req.OutputPath)
		if err == nil {
			err = errors.New("output file is empty")
		}
		return Result{}, fault.Download(fmt.Sprintf("Download failed: %v", err), true, err)
	}

	duration := req.End - req.Start
	if probed, err := d.probeDuration(ctx, req.OutputPath); err != nil {
		logger.Warn("failed to probe clip duration, using requested range",
			slog.String("error", err.Error()),
		)
	} else if probed > 0 {
		duration = int(math.Round(probed))
	}

	logger.Info("video download completed",
		slog.String("path", req.OutputPath),
		slog.Int64("size", info.Size()),
		slog.Int("duration", duration),
	)

	return Result{Path: req.OutputPath, Size: info.Size(), Duration: duration}, nil
}

func (d *Downloader) downloadArgs(req Request) []string {
	args := []string{
		req.SourceURL,
		"--download-sections", fmt.Sprintf("*%d-%d", req.Start, req.End),
		"--force-keyframes-at-cuts",
		"--format", videoFormat,
		"--merge-output-format", d.format,
		"--output", req.OutputPath,
		"--no-playlist",
		"--retries", "3",
		"--no-warnings",
		"--no-progress",
	}
	if d.ffmpegPath != "ffmpeg" {
		args = append(args, "--ffmpeg-location", d.ffmpegPath)
	}
	return args
}

// classify maps a yt-dlp failure onto the error taxonomy.
func classify(err error) error {
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		return fault.Download(fmt.Sprintf("Download failed: %v", err), true, err)
	}

	text := strings.ToLower(toolErr.Stderr + " " + toolErr.Err.Error())
	switch {
	case strings.Contains(text, "private video") || strings.Contains(text, "not available"):
		return fault.Download("Video is private or not available", false, err)
	case strings.Contains(text, "copyright") || strings.Contains(text, "removed"):
		return fault.Download("Video has been removed or is copyrighted", false, err)
	case strings.Contains(text, "geo") || strings.Contains(text, "location"):
		return fault.Download("Video is not available in this location", false, err)
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out") || strings.Contains(text, "network"):
		return fault.Download("Network error during download", true, err)
	default:
		return fault.Processing(toolErr.Error(), err)
	}
}

// removePartial deletes the output file and yt-dlp's intermediate files
// that share its base name.
func removePartial(outputPath string) {
	base := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
	matches, _ := filepath.Glob(base + ".*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
	_ = os.Remove(outputPath)
}
