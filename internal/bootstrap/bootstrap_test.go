package bootstrap

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clip-worker/internal/config"
	"github.com/maauso/clip-worker/internal/storage"
)

func TestInitStorage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("local when no bucket", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "artifacts")
		store, err := initStorage(&config.Config{ArtifactDir: dir}, aws.Config{}, logger)
		require.NoError(t, err)

		local, ok := store.(*storage.LocalStore)
		require.True(t, ok)
		assert.Equal(t, dir, local.Root())
		assert.DirExists(t, dir)
	})

	t.Run("s3 when bucket set", func(t *testing.T) {
		cfg := &config.Config{S3Bucket: "clips", AWSRegion: "us-east-1", AWSEndpointURL: "http://localhost:4566"}
		store, err := initStorage(cfg, aws.Config{Region: "us-east-1"}, logger)
		require.NoError(t, err)

		_, ok := store.(*storage.S3Store)
		assert.True(t, ok)
	})
}

func TestNewRegistry(t *testing.T) {
	families, err := newRegistry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

func TestDependencies_CloseWithoutPool(t *testing.T) {
	assert.NotPanics(t, func() { (&Dependencies{}).Close() })
}
