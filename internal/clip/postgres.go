package clip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/maauso/clip-worker/internal/fault"
)

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)

// DBTX is the subset of pgx used by the repository.
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PostgresRepository stores clips in the clips table.
// Transition rules are enforced in the WHERE clause so concurrent writers
// cannot move a terminal clip.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a repository on top of db.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const clipColumns = `id, share_token, youtube_url, start_time, end_time, status,
	error_message, s3_key, file_size, duration, created_at, updated_at, expires_at`

// Create inserts a clip. Zero ExpiresAt uses the column default.
func (r *PostgresRepository) Create(ctx context.Context, c *Clip) error {
	status := c.Status
	if status == "" {
		status = StatusPending
	}

	var expires *time.Time
	if !c.ExpiresAt.IsZero() {
		expires = &c.ExpiresAt
	}

	query := `
		INSERT INTO clips (id, share_token, youtube_url, start_time, end_time, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW() + INTERVAL '2 days'))
		RETURNING created_at, updated_at, expires_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.ShareToken, c.SourceURL, c.StartTime, c.EndTime, string(status), expires,
	).Scan(&c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: id or share token already used", ErrConflict)
		}
		return dbError("create clip", err)
	}
	c.Status = status
	return nil
}

// GetByID retrieves a clip by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE id = $1`

	c, err := scanClip(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClipNotFound
		}
		return nil, dbError("get clip", err)
	}
	return c, nil
}

// MarkProcessing moves the clip to processing.
func (r *PostgresRepository) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE clips
		SET status = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`
	return r.transition(ctx, id, query, string(StatusProcessing), sourcesFor(StatusProcessing))
}

// MarkCompleted moves the clip to completed with the artifact metadata.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, res Result) error {
	query := `
		UPDATE clips
		SET status = $2, error_message = NULL, s3_key = $4, file_size = $5, duration = $6, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`
	return r.transition(ctx, id, query, string(StatusCompleted), sourcesFor(StatusCompleted),
		res.ArtifactKey, res.FileSize, res.Duration)
}

// MarkFailed moves the clip to failed with msg.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, msg string) error {
	query := `
		UPDATE clips
		SET status = $2, error_message = $4, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`
	return r.transition(ctx, id, query, string(StatusFailed), sourcesFor(StatusFailed), msg)
}

// transition runs a guarded UPDATE. When no row matches it tells a missing
// clip apart from a forbidden transition.
func (r *PostgresRepository) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return dbError("update clip status", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM clips WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrClipNotFound
		}
		return dbError("read clip status", err)
	}
	return fmt.Errorf("%w: clip %s is %s", ErrInvalidTransition, id, current)
}

// ListExpired returns expired clips that still reference an artifact.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]Expired, error) {
	query := `
		SELECT id, s3_key, expires_at
		FROM clips
		WHERE expires_at < $1 AND s3_key IS NOT NULL
		ORDER BY expires_at ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, dbError("list expired clips", err)
	}
	defer rows.Close()

	var result []Expired
	for rows.Next() {
		var e Expired
		if err := rows.Scan(&e.ID, &e.ArtifactKey, &e.ExpiresAt); err != nil {
			return nil, dbError("scan expired clip", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list expired clips", err)
	}
	return result, nil
}

// Delete physically removes a clip.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM clips WHERE id = $1`, id); err != nil {
		return dbError("delete clip", err)
	}
	return nil
}

// Stats counts the clips that have not expired at now.
func (r *PostgresRepository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM clips
		WHERE expires_at > $1`

	var s Stats
	err := r.db.QueryRow(ctx, query, now).Scan(&s.Total, &s.Pending, &s.Processing, &s.Completed, &s.Failed)
	if err != nil {
		return Stats{}, dbError("clip stats", err)
	}
	return s, nil
}

// Ping checks the connection when db supports it.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	p, ok := r.db.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return dbError("ping", err)
	}
	return nil
}

func scanClip(row pgx.Row) (*Clip, error) {
	var (
		c        Clip
		status   string
		errMsg   *string
		s3Key    *string
		fileSize *int64
		duration *int
	)
	err := row.Scan(
		&c.ID, &c.ShareToken, &c.SourceURL, &c.StartTime, &c.EndTime, &status,
		&errMsg, &s3Key, &fileSize, &duration, &c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	if errMsg != nil {
		c.ErrorMessage = *errMsg
	}
	if s3Key != nil {
		c.ArtifactKey = *s3Key
	}
	if fileSize != nil {
		c.FileSize = *fileSize
	}
	if duration != nil {
		c.Duration = *duration
	}
	return &c, nil
}

func dbError(op string, err error) error {
	return fault.Database(fmt.Sprintf("Database query failed: %s: %v", op, err), err)
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
