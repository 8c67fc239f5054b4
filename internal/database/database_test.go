package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		want    string
		wantErr error
	}{
		{"postgres scheme", "postgres://u:p@db:5432/clips?sslmode=disable", "pgx5://u:p@db:5432/clips?sslmode=disable", nil},
		{"postgresql scheme", "postgresql://u:p@db/clips", "pgx5://u:p@db/clips", nil},
		{"keyword dsn", "host=db user=u dbname=clips", "", ErrUnsupportedDSN},
		{"empty", "", "", ErrUnsupportedDSN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := migrateURL(tt.dsn)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnect_InvalidDSN(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	_, err := Connect(context.Background(), "postgres://%zz", logger)
	assert.Error(t, err)
}

// startPostgres runs PostgreSQL in a container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("clips_test"),
		postgres.WithUsername("clips"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestMigrateAndConnect_Integration(t *testing.T) {
	dsn := startPostgres(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	require.NoError(t, Migrate(dsn, logger))
	// A second run is a no-op.
	require.NoError(t, Migrate(dsn, logger))

	ctx := context.Background()
	pool, err := Connect(ctx, dsn, logger)
	require.NoError(t, err)
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'clips')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)

	// end_time must be greater than start_time.
	_, err = pool.Exec(ctx, `INSERT INTO clips (youtube_url, start_time, end_time, share_token) VALUES ('u', 5, 3, 'tok')`)
	assert.Error(t, err)

	// expires_at cannot be moved after creation.
	var original, after time.Time
	err = pool.QueryRow(ctx, `INSERT INTO clips (youtube_url, start_time, end_time, share_token) VALUES ('u', 0, 10, 'tok2') RETURNING expires_at`).Scan(&original)
	require.NoError(t, err)
	err = pool.QueryRow(ctx, `UPDATE clips SET expires_at = NOW() + INTERVAL '30 days' WHERE share_token = 'tok2' RETURNING expires_at`).Scan(&after)
	require.NoError(t, err)
	assert.True(t, original.Equal(after))
}
