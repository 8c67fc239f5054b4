package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clip-worker/internal/clip"
	"github.com/maauso/clip-worker/internal/clip/id"
	"github.com/maauso/clip-worker/internal/metrics"
	"github.com/maauso/clip-worker/internal/scratch"
)

// recordingStore records deletes and fails those listed in failKeys.
type recordingStore struct {
	mu       sync.Mutex
	deleted  []string
	failKeys map[string]bool
}

func (s *recordingStore) Upload(context.Context, string, string, string) (int64, error) {
	return 0, nil
}

func (s *recordingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	if s.failKeys[key] {
		return errors.New("access denied")
	}
	return nil
}

func (s *recordingStore) Exists(context.Context, string) (bool, error) {
	return false, nil
}

func (s *recordingStore) deletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// flakyRepo fails Delete for the ids in failIDs.
type flakyRepo struct {
	*clip.MemoryRepository
	failIDs map[string]bool
}

func (r *flakyRepo) Delete(ctx context.Context, id string) error {
	if r.failIDs[id] {
		return errors.New("database is read-only")
	}
	return r.MemoryRepository.Delete(ctx, id)
}

type fakeSweeper struct {
	calls   int
	removed int
	err     error
}

func (f *fakeSweeper) Sweep(time.Duration, time.Time) (int, error) {
	f.calls++
	return f.removed, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedCompleted stores a completed clip that expires at expiresAt.
func seedCompleted(t *testing.T, repo clip.Repository, expiresAt time.Time) *clip.Clip {
	t.Helper()
	ctx := context.Background()
	c := clip.New("https://www.youtube.com/watch?v=abc", 0, 10)
	c.CreatedAt = expiresAt.Add(-clip.DefaultTTL)
	c.ExpiresAt = expiresAt
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.MarkProcessing(ctx, c.ID))
	require.NoError(t, repo.MarkCompleted(ctx, c.ID, clip.Result{
		ArtifactKey: "clips/2025/01/01/" + c.ID + ".mp4",
		FileSize:    100,
		Duration:    10,
	}))
	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	return got
}

func TestReaper_ReclaimExpired(t *testing.T) {
	repo := clip.NewMemoryRepository()
	store := &recordingStore{}
	r := New(repo, store, &fakeSweeper{}, Config{}, metrics.NewNop(), discardLogger())

	now := time.Now()
	expired := seedCompleted(t, repo, now.Add(-time.Hour))
	live := seedCompleted(t, repo, now.Add(time.Hour))

	res, err := r.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Expired: 1, Reclaimed: 1}, res)
	assert.Equal(t, []string{expired.ArtifactKey}, store.deletedKeys())

	_, err = repo.GetByID(context.Background(), expired.ID)
	assert.ErrorIs(t, err, clip.ErrClipNotFound)
	_, err = repo.GetByID(context.Background(), live.ID)
	assert.NoError(t, err)

	// A second pass finds nothing.
	res, err = r.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestReaper_ReclaimExpired_ArtifactFailureStillDeletesRecord(t *testing.T) {
	repo := clip.NewMemoryRepository()
	c := seedCompleted(t, repo, time.Now().Add(-time.Hour))
	store := &recordingStore{failKeys: map[string]bool{c.ArtifactKey: true}}
	r := New(repo, store, &fakeSweeper{}, Config{}, nil, discardLogger())

	res, err := r.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reclaimed)

	_, err = repo.GetByID(context.Background(), c.ID)
	assert.ErrorIs(t, err, clip.ErrClipNotFound)
}

func TestReaper_ReclaimExpired_RecordFailureDoesNotAbortBatch(t *testing.T) {
	mem := clip.NewMemoryRepository()
	now := time.Now()
	stuck := seedCompleted(t, mem, now.Add(-2*time.Hour))
	ok := seedCompleted(t, mem, now.Add(-time.Hour))
	repo := &flakyRepo{MemoryRepository: mem, failIDs: map[string]bool{stuck.ID: true}}
	store := &recordingStore{}
	r := New(repo, store, &fakeSweeper{}, Config{}, nil, discardLogger())

	res, err := r.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Expired: 2, Reclaimed: 1, Errors: 1}, res)
	assert.ElementsMatch(t, []string{stuck.ArtifactKey, ok.ArtifactKey}, store.deletedKeys())

	_, err = mem.GetByID(context.Background(), ok.ID)
	assert.ErrorIs(t, err, clip.ErrClipNotFound)
	_, err = mem.GetByID(context.Background(), stuck.ID)
	assert.NoError(t, err)
}

func TestReaper_ReclaimExpired_RespectsBatchSize(t *testing.T) {
	repo := clip.NewMemoryRepository()
	now := time.Now()
	for i := 0; i < 5; i++ {
		seedCompleted(t, repo, now.Add(-time.Duration(i+1)*time.Hour))
	}
	r := New(repo, &recordingStore{}, &fakeSweeper{}, Config{BatchSize: 2}, nil, discardLogger())

	res, err := r.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Reclaimed)

	stats, err := repo.Stats(context.Background(), now.Add(-10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func TestReaper_SweepScratch(t *testing.T) {
	area, err := scratch.New(t.TempDir(), discardLogger())
	require.NoError(t, err)

	stale := filepath.Join(area.Root(), id.Generate())
	require.NoError(t, os.Mkdir(stale, 0o750))
	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	fresh, err := area.Create(id.Generate())
	require.NoError(t, err)

	r := New(clip.NewMemoryRepository(), &recordingStore{}, area, Config{}, nil, discardLogger())
	removed, err := r.SweepScratch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
}

func TestReaper_SweepScratch_Error(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("permission denied")}
	r := New(clip.NewMemoryRepository(), &recordingStore{}, sweeper, Config{}, nil, discardLogger())

	_, err := r.SweepScratch(context.Background())
	assert.Error(t, err)
}

func TestReaper_Run(t *testing.T) {
	repo := clip.NewMemoryRepository()
	c := seedCompleted(t, repo, time.Now().Add(-time.Hour))
	sweeper := &fakeSweeper{}
	r := New(repo, &recordingStore{}, sweeper, Config{
		Interval:        time.Hour,
		ScratchInterval: time.Hour,
	}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// Both tasks run right away.
	require.Eventually(t, func() bool {
		_, err := repo.GetByID(context.Background(), c.ID)
		return errors.Is(err, clip.ErrClipNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, sweeper.calls)
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	assert.Equal(t, time.Hour, cfg.Interval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 6*time.Hour, cfg.ScratchInterval)
	assert.Equal(t, 24*time.Hour, cfg.ScratchMaxAge)
}
