package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEntryNotFound is returned when no outbox row exists for the id.
var ErrEntryNotFound = errors.New("outbox: entry not found")

// Repository reads and updates outbox entries. Each status update is its
// own statement so one stuck entry never blocks the rest of a sweep batch.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `
id, kind, recipient_email, recipient_name, variables, attachments,
status, retry_count, max_retries, next_retry_at, last_error, created_at, sent_at
`

// GetByID loads one entry.
func (r *Repository) GetByID(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM outbox_entries WHERE id = $1`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("outbox: load entry: %w", err)
	}
	return entry, nil
}

// DueBatch selects up to limit entries eligible for a dispatch attempt:
// still PENDING, or FAILED with a reached retry moment. Terminal failures
// (next_retry_at IS NULL) are excluded but remain queryable.
func (r *Repository) DueBatch(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	query := `
SELECT ` + entryColumns + `
FROM outbox_entries
WHERE status = 'PENDING'
   OR (status = 'FAILED' AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
ORDER BY created_at
LIMIT $2
`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: select due batch: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox: scan due entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate due batch: %w", err)
	}
	return entries, nil
}

// Update persists the delivery state of one entry.
func (r *Repository) Update(ctx context.Context, e *Entry) error {
	const query = `
UPDATE outbox_entries
SET status = $2,
    retry_count = $3,
    next_retry_at = $4,
    last_error = $5,
    sent_at = $6
WHERE id = $1
`
	tag, err := r.pool.Exec(ctx, query, e.ID, e.Status, e.RetryCount, e.NextRetryAt, e.LastError, e.SentAt)
	if err != nil {
		return fmt.Errorf("outbox: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		varsJSON []byte
		attsJSON []byte
	)
	if err := row.Scan(
		&e.ID, &e.Kind, &e.RecipientEmail, &e.RecipientName, &varsJSON, &attsJSON,
		&e.Status, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.LastError, &e.CreatedAt, &e.SentAt,
	); err != nil {
		return nil, err
	}

	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &e.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if len(attsJSON) > 0 {
		if err := json.Unmarshal(attsJSON, &e.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return &e, nil
}
