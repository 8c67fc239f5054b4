// Package storage provides the Artifact Store: durable storage for finished
// clips. It defines the Store interface (port) and implementations for S3
// and local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultFormat is the container used when none is configured.
const DefaultFormat = "mp4"

// ErrInvalidKey is returned when a key cannot be mapped to a storage location.
var ErrInvalidKey = errors.New("storage: invalid artifact key")

// Store defines the interface for durable artifact storage.
type Store interface {
	// Upload stores the file at localPath under key and returns its size.
	Upload(ctx context.Context, localPath, key, contentType string) (size int64, err error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// ClipKey returns the artifact key for a job:
// clips/<yyyy>/<mm>/<dd>/<jobID>.<format>, dated in UTC.
func ClipKey(jobID, format string, t time.Time) string {
	if format == "" {
		format = DefaultFormat
	}
	t = t.UTC()
	return fmt.Sprintf("clips/%04d/%02d/%02d/%s.%s", t.Year(), int(t.Month()), t.Day(), jobID, format)
}

// ContentType returns the MIME type for a video container.
func ContentType(format string) string {
	if format == "" {
		format = DefaultFormat
	}
	return "video/" + format
}
