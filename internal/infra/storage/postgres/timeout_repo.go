package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
)

// TimeoutRepo implements storage.TimeoutStore using PostgreSQL.
type TimeoutRepo struct {
	db *DB
}

// NewTimeoutRepo creates a new PostgreSQL timeout repository.
func NewTimeoutRepo(db *DB) *TimeoutRepo {
	return &TimeoutRepo{db: db}
}

type timeoutRow struct {
	ID             string    `db:"id"`
	Destination    string    `db:"destination"`
	Headers        []byte    `db:"headers"`
	State          []byte    `db:"state"`
	ExpireAt       time.Time `db:"expire_at"`
	OwningEndpoint string    `db:"owning_endpoint"`
}

func (r timeoutRow) toDomain() (*domain.TimeoutEntry, error) {
	headers := domain.Headers{}
	if len(r.Headers) > 0 {
		if err := json.Unmarshal(r.Headers, &headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers of timeout %s: %w", r.ID, err)
		}
	}
	return &domain.TimeoutEntry{
		ID:             r.ID,
		Destination:    r.Destination,
		Headers:        headers,
		State:          r.State,
		Time:           r.ExpireAt.UTC(),
		OwningEndpoint: r.OwningEndpoint,
	}, nil
}

const selectColumns = `id, destination, headers, state, expire_at, owning_endpoint`

// Add stores a timeout.
func (r *TimeoutRepo) Add(ctx context.Context, e *domain.TimeoutEntry) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO timeouts (id, destination, headers, state, expire_at, owning_endpoint)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.Destination, string(headers), e.State, e.Time.UTC(), e.OwningEndpoint,
	)
	if err != nil {
		return fmt.Errorf("failed to add timeout: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrDuplicateTimeout
	}
	return nil
}

// Peek returns the timeout or nil.
func (r *TimeoutRepo) Peek(ctx context.Context, id string) (*domain.TimeoutEntry, error) {
	var row timeoutRow
	err := r.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM timeouts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get timeout: %w", err)
	}
	return row.toDomain()
}

// TryRemove deletes the timeout and reports whether this call removed it.
func (r *TimeoutRepo) TryRemove(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM timeouts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove timeout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// GetDue returns due timeouts, oldest first.
func (r *TimeoutRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.TimeoutEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + selectColumns + `
		FROM timeouts
		WHERE expire_at <= $1
		ORDER BY expire_at ASC, id ASC
		LIMIT $2
	`
	var rows []timeoutRow
	if err := r.db.SelectContext(ctx, &rows, query, now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to get due timeouts: %w", err)
	}

	out := make([]*domain.TimeoutEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of stored timeouts.
func (r *TimeoutRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM timeouts`); err != nil {
		return 0, fmt.Errorf("failed to count timeouts: %w", err)
	}
	return n, nil
}

// Health implements storage.HealthChecker.
func (r *TimeoutRepo) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}
