package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/maauso/clip-worker/internal/fault"
)

// ErrFFprobeOutput is returned when ffprobe prints no usable duration.
var ErrFFprobeOutput = errors.New("ffprobe returned no duration")

// probeDuration returns the duration in seconds of a media file.
// It uses ffprobe to extract the duration metadata.
func (d *Downloader) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := d.run(ctx, d.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, ErrFFprobeOutput
	}
	duration, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// CheckDependencies verifies that yt-dlp and ffmpeg can be executed.
func (d *Downloader) CheckDependencies(ctx context.Context) error {
	checks := []struct {
		path string
		arg  string
	}{
		{d.ytdlpPath, "--version"},
		{d.ffmpegPath, "-version"},
	}

	for _, c := range checks {
		out, err := d.run(ctx, c.path, c.arg)
		if err != nil {
			return fault.Configuration(fmt.Sprintf("Required tool %s is not available", c.path), err)
		}
		version := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
		d.logger.Info("media tool available",
			slog.String("tool", c.path),
			slog.String("version", version),
		)
	}
	return nil
}
