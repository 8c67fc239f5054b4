package clip

import (
	"context"
	"time"
)

// Repository defines the interface for clip record persistence.
// It owns every lifecycle transition of a clip.
type Repository interface {
	// Create inserts a new clip. Returns ErrConflict on a duplicate ID or share token.
	Create(ctx context.Context, c *Clip) error

	// GetByID retrieves a clip by its job ID.
	// Returns ErrClipNotFound if the clip does not exist.
	GetByID(ctx context.Context, id string) (*Clip, error)

	// MarkProcessing moves the clip to processing and clears any error message.
	MarkProcessing(ctx context.Context, id string) error

	// MarkCompleted moves the clip to completed and records the artifact metadata.
	MarkCompleted(ctx context.Context, id string, res Result) error

	// MarkFailed moves the clip to failed and records msg.
	MarkFailed(ctx context.Context, id string, msg string) error

	// ListExpired returns up to limit clips with an artifact key whose expiry
	// is before now, oldest expiry first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Expired, error)

	// Delete physically removes a clip. Deleting an absent clip is not an error.
	Delete(ctx context.Context, id string) error

	// Stats counts the clips that have not expired at now.
	Stats(ctx context.Context, now time.Time) (Stats, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
