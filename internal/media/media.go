// Package media fetches a time range of a source video into a local file
// using the yt-dlp, ffmpeg and ffprobe command line tools.
package media

import "context"

// Request describes one clip acquisition.
type Request struct {
	JobID      string
	SourceURL  string
	Start      int // seconds
	End        int // seconds
	OutputPath string
}

// Result describes the acquired file.
type Result struct {
	Path     string
	Size     int64
	Duration int // seconds
}

// Acquirer defines the interface for acquiring a clip.
// Implementations validate the request before starting any subprocess and
// leave no partial output behind on failure.
type Acquirer interface {
	Download(ctx context.Context, req Request) (Result, error)
}
