package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Writer enqueues notification intents inside the caller's transaction so a
// rollback of the triggering state change also drops the notification. It
// never opens a transaction of its own.
type Writer struct {
	maxRetries int
	now        func() time.Time
}

func NewWriter(maxRetries int) *Writer {
	return &Writer{maxRetries: maxRetries, now: time.Now}
}

// Enqueue inserts one PENDING entry into the active transaction and returns
// it so the caller can trigger the immediate dispatch path after commit.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, kind Kind, recipientEmail, recipientName string, variables map[string]any, attachments []Attachment) (*Entry, error) {
	entry, err := NewEntry(kind, recipientEmail, recipientName, variables, attachments, w.maxRetries, w.now().UTC())
	if err != nil {
		return nil, err
	}

	varsJSON, err := json.Marshal(entry.Variables)
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal variables: %w", err)
	}

	var attsJSON []byte
	if len(entry.Attachments) > 0 {
		attsJSON, err = json.Marshal(entry.Attachments)
		if err != nil {
			return nil, fmt.Errorf("outbox: marshal attachments: %w", err)
		}
	}

	const insertSQL = `
INSERT INTO outbox_entries (id, kind, recipient_email, recipient_name, variables, attachments, status, retry_count, max_retries, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	if _, err := tx.Exec(ctx, insertSQL,
		entry.ID, entry.Kind, entry.RecipientEmail, entry.RecipientName,
		varsJSON, attsJSON, entry.Status, entry.RetryCount, entry.MaxRetries, entry.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("outbox: enqueue entry: %w", err)
	}

	return entry, nil
}
