package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// backoffCap bounds the exponential retry delay.
const backoffCap = time.Hour

// NewEntry builds a PENDING entry ready for its first dispatch attempt.
func NewEntry(kind Kind, recipientEmail, recipientName string, variables map[string]any, attachments []Attachment, maxRetries int, now time.Time) (*Entry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("outbox: unknown notification kind %q", kind)
	}
	if recipientEmail == "" {
		return nil, fmt.Errorf("outbox: recipient email is required")
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if variables == nil {
		variables = map[string]any{}
	}

	return &Entry{
		ID:             uuid.NewString(),
		Kind:           kind,
		RecipientEmail: recipientEmail,
		RecipientName:  recipientName,
		Variables:      variables,
		Attachments:    attachments,
		Status:         StatusPending,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
	}, nil
}

// MarkSent records a successful delivery.
func (e *Entry) MarkSent(now time.Time) {
	e.Status = StatusSent
	e.SentAt = &now
	e.NextRetryAt = nil
	e.LastError = nil
}

// MarkFailed records one failed attempt. Below the retry bound the entry
// stays eligible with an exponentially later NextRetryAt; at the bound it
// becomes terminal (NextRetryAt nil) but is kept for audit.
func (e *Entry) MarkFailed(errMsg string, now time.Time) {
	e.RetryCount++
	e.Status = StatusFailed
	e.LastError = &errMsg

	if e.RetryCount >= e.MaxRetries {
		e.NextRetryAt = nil
		return
	}

	next := now.Add(backoff(e.RetryCount))
	e.NextRetryAt = &next
}

// Dispatchable reports whether an attempt may run now: a fresh PENDING
// entry, or a FAILED one whose retry moment has arrived.
func (e *Entry) Dispatchable(now time.Time) bool {
	switch e.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return e.NextRetryAt != nil && !now.Before(*e.NextRetryAt)
	}
	return false
}

// Exhausted reports whether automatic retries are over.
func (e *Entry) Exhausted() bool {
	return e.Status == StatusFailed && e.NextRetryAt == nil
}

func backoff(retryCount int) time.Duration {
	d := time.Duration(1<<uint(retryCount)) * time.Minute
	if d > backoffCap {
		return backoffCap
	}
	return d
}
