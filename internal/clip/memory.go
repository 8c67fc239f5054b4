package clip

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; PostgresRepository is used in production.
type MemoryRepository struct {
	mu    sync.RWMutex
	clips map[string]*Clip
	now   func() time.Time
}

// NewMemoryRepository creates a new in-memory clip repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clips: make(map[string]*Clip),
		now:   time.Now,
	}
}

// Create stores a clone of c. Missing timestamps are filled in.
func (r *MemoryRepository) Create(_ context.Context, c *Clip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clips[c.ID]; ok {
		return ErrConflict
	}
	for _, existing := range r.clips {
		if existing.ShareToken == c.ShareToken {
			return ErrConflict
		}
	}

	stored := c.Clone()
	now := r.now().UTC()
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = stored.CreatedAt.Add(DefaultTTL)
	}
	r.clips[c.ID] = stored
	return nil
}

// GetByID retrieves a clip by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Clip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clips[id]
	if !ok {
		return nil, ErrClipNotFound
	}
	return c.Clone(), nil
}

// MarkProcessing moves the clip to processing.
func (r *MemoryRepository) MarkProcessing(_ context.Context, id string) error {
	return r.transition(id, StatusProcessing, func(c *Clip) {
		c.ErrorMessage = ""
	})
}

// MarkCompleted moves the clip to completed with the artifact metadata.
func (r *MemoryRepository) MarkCompleted(_ context.Context, id string, res Result) error {
	return r.transition(id, StatusCompleted, func(c *Clip) {
		c.ErrorMessage = ""
		c.ArtifactKey = res.ArtifactKey
		c.FileSize = res.FileSize
		c.Duration = res.Duration
	})
}

// MarkFailed moves the clip to failed with msg.
func (r *MemoryRepository) MarkFailed(_ context.Context, id string, msg string) error {
	return r.transition(id, StatusFailed, func(c *Clip) {
		c.ErrorMessage = msg
	})
}

func (r *MemoryRepository) transition(id string, to Status, mutate func(*Clip)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clips[id]
	if !ok {
		return ErrClipNotFound
	}
	if !CanTransition(c.Status, to) {
		return ErrInvalidTransition
	}

	c.Status = to
	mutate(c)
	c.UpdatedAt = r.now().UTC()
	return nil
}

// ListExpired returns expired clips that still reference an artifact.
func (r *MemoryRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]Expired, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Expired
	for _, c := range r.clips {
		if c.ArtifactKey != "" && c.IsExpired(now) {
			out = append(out, Expired{ID: c.ID, ArtifactKey: c.ArtifactKey, ExpiresAt: c.ExpiresAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a clip from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clips, id)
	return nil
}

// Stats counts the clips that have not expired at now.
func (r *MemoryRepository) Stats(_ context.Context, now time.Time) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, c := range r.clips {
		if !c.IsExpired(now) {
			s.add(c.Status)
		}
	}
	return s, nil
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(_ context.Context) error {
	return nil
}
