package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
)

// TimeoutStore implements storage.TimeoutStore on an embedded or MySQL
// database. Due times are stored as unix microseconds so ordering does not
// depend on the driver's time encoding.
type TimeoutStore struct {
	db     *sqlx.DB
	insert string
}

// Close closes the database.
func (s *TimeoutStore) Close() error {
	return s.db.Close()
}

type timeoutRow struct {
	ID             string `db:"id"`
	Destination    string `db:"destination"`
	Headers        string `db:"headers"`
	State          []byte `db:"state"`
	ExpireAtUs     int64  `db:"expire_at_us"`
	OwningEndpoint string `db:"owning_endpoint"`
}

func (r timeoutRow) toDomain() (*domain.TimeoutEntry, error) {
	headers := domain.Headers{}
	if r.Headers != "" {
		if err := json.Unmarshal([]byte(r.Headers), &headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers of timeout %s: %w", r.ID, err)
		}
	}
	return &domain.TimeoutEntry{
		ID:             r.ID,
		Destination:    r.Destination,
		Headers:        headers,
		State:          r.State,
		Time:           time.UnixMicro(r.ExpireAtUs).UTC(),
		OwningEndpoint: r.OwningEndpoint,
	}, nil
}

const selectColumns = `id, destination, headers, state, expire_at_us, owning_endpoint`

// Add stores a timeout.
func (s *TimeoutStore) Add(ctx context.Context, e *domain.TimeoutEntry) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.insert,
		e.ID, e.Destination, string(headers), e.State, e.Time.UnixMicro(), e.OwningEndpoint,
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
func (s *TimeoutStore) Peek(ctx context.Context, id string) (*domain.TimeoutEntry, error) {
	var row timeoutRow
	err := s.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM timeouts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get timeout: %w", err)
	}
	return row.toDomain()
}

// TryRemove deletes the timeout and reports whether this call removed it.
func (s *TimeoutStore) TryRemove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timeouts WHERE id = ?`, id)
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
func (s *TimeoutStore) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.TimeoutEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []timeoutRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+selectColumns+`
		FROM timeouts
		WHERE expire_at_us <= ?
		ORDER BY expire_at_us ASC, id ASC
		LIMIT ?`, now.UnixMicro(), limit)
	if err != nil {
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
func (s *TimeoutStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM timeouts`); err != nil {
		return 0, fmt.Errorf("failed to count timeouts: %w", err)
	}
	return n, nil
}

// Health implements storage.HealthChecker.
func (s *TimeoutStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
