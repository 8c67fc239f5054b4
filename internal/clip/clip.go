// Package clip provides the Clip Record aggregate: one persistent row per
// submitted clip job, its lifecycle state machine, and the repository port
// with in-memory and PostgreSQL implementations.
package clip

import (
	"errors"
	"slices"
	"time"

	"github.com/maauso/clip-worker/internal/clip/id"
)

// Status represents the lifecycle state of a clip.
type Status string

const (
	// StatusPending is set when the clip is created, before a worker picks it up.
	StatusPending Status = "pending"
	// StatusProcessing indicates a worker is acquiring and uploading the clip.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the artifact is persisted and metadata recorded.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the run failed; the error message is recorded.
	StatusFailed Status = "failed"
)

// DefaultTTL is how long a clip stays shareable after creation.
const DefaultTTL = 48 * time.Hour

var (
	// ErrClipNotFound is returned when a clip cannot be found by ID.
	ErrClipNotFound = errors.New("clip not found")
	// ErrInvalidTransition is returned when a status write would break monotonicity.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConflict is returned when a clip with the same ID or share token exists.
	ErrConflict = errors.New("clip already exists")
)

// validTransitions defines which state transitions are allowed.
// processing -> processing lets a redelivered message restart a crashed run.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// sourcesFor returns every status that may transition into to.
func sourcesFor(to Status) []string {
	var out []string
	for _, from := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

// IsValid returns true if s is one of the four lifecycle values.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true if no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Clip is the persistent record of one requested clip.
type Clip struct {
	// ID is the job ID and primary key.
	ID string
	// ShareToken is the unique, externally visible token for the share link.
	ShareToken string
	// SourceURL is the video the clip is cut from.
	SourceURL string
	// StartTime is the clip start offset in seconds.
	StartTime int
	// EndTime is the clip end offset in seconds.
	EndTime int
	// Status is the current lifecycle state.
	Status Status
	// ErrorMessage is set only when Status is failed.
	ErrorMessage string
	// ArtifactKey is set only when Status is completed.
	ArtifactKey string
	// FileSize is the artifact size in bytes, set with ArtifactKey.
	FileSize int64
	// Duration is the clip duration in seconds.
	Duration int
	CreatedAt time.Time
	UpdatedAt time.Time
	// ExpiresAt is fixed at creation.
	ExpiresAt time.Time
}

// New creates a pending clip with a generated ID and share token.
func New(sourceURL string, start, end int) *Clip {
	now := time.Now().UTC()
	return &Clip{
		ID:         id.Generate(),
		ShareToken: id.ShareToken(),
		SourceURL:  sourceURL,
		StartTime:  start,
		EndTime:    end,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(DefaultTTL),
	}
}

// IsExpired reports whether the clip is past its expiry at now.
func (c *Clip) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

// Clone returns a copy of the clip for safe reads.
func (c *Clip) Clone() *Clip {
	cp := *c
	return &cp
}

// Result is the metadata recorded when a clip completes.
type Result struct {
	ArtifactKey string
	FileSize    int64
	Duration    int
}

// Expired identifies a clip eligible for reclamation.
type Expired struct {
	ID          string
	ArtifactKey string
	ExpiresAt   time.Time
}

// Stats counts non-expired clips per status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// add counts one clip with status s.
func (s *Stats) add(status Status) {
	s.Total++
	switch status {
	case StatusPending:
		s.Pending++
	case StatusProcessing:
		s.Processing++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	}
}
