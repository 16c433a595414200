package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"signflow/logger"
)

// Transport actually delivers one notification. Failure must be
// distinguishable from success; the error text is recorded on the entry.
type Transport interface {
	Send(ctx context.Context, entry *Entry) error
}

// EntryStore is the persistence surface the dispatcher needs.
type EntryStore interface {
	GetByID(ctx context.Context, id string) (*Entry, error)
	DueBatch(ctx context.Context, now time.Time, limit int) ([]*Entry, error)
	Update(ctx context.Context, e *Entry) error
}

// Dispatcher owns both delivery paths. The immediate path is fired right
// after a triggering transaction commits; the periodic sweep re-attempts
// anything still pending or retry-eligible, which is the crash-recovery
// mechanism. The outbox table, not process memory, decides what has been
// handled.
type Dispatcher struct {
	store       EntryStore
	transport   Transport
	log         *logger.Logger
	batchSize   int
	interval    time.Duration
	sendTimeout time.Duration
	now         func() time.Time

	sweeping atomic.Bool
}

func NewDispatcher(store EntryStore, transport Transport, log *logger.Logger, batchSize int, interval, sendTimeout time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		store:       store,
		transport:   transport,
		log:         log,
		batchSize:   batchSize,
		interval:    interval,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// DispatchByID is the immediate best-effort path. Any failure is absorbed:
// the sweep will pick the entry up again.
func (d *Dispatcher) DispatchByID(ctx context.Context, id string) {
	entry, err := d.store.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			d.log.Warn("immediate dispatch lookup failed", "outbox_id", id, "error", err)
		}
		return
	}
	d.attemptDispatch(ctx, entry)
}

// Run executes the sweep on a fixed interval until ctx is cancelled. A tick
// that fires while the previous sweep is still running is skipped, never
// queued.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.sweeping.CompareAndSwap(false, true) {
				continue
			}
			d.Sweep(ctx)
			d.sweeping.Store(false)
		}
	}
}

// Sweep processes one bounded batch of due entries, one at a time. Each
// entry's status update is committed independently so a failure in one does
// not block the rest.
func (d *Dispatcher) Sweep(ctx context.Context) {
	entries, err := d.store.DueBatch(ctx, d.now().UTC(), d.batchSize)
	if err != nil {
		d.log.Error("outbox sweep select failed", "error", err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		d.attemptDispatch(ctx, entry)
	}
}

func (d *Dispatcher) attemptDispatch(ctx context.Context, entry *Entry) {
	now := d.now().UTC()
	if !entry.Dispatchable(now) {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err := d.transport.Send(sendCtx, entry)
	cancel()

	if err != nil {
		entry.MarkFailed(err.Error(), now)
		if entry.Exhausted() {
			d.log.Error("notification permanently failed", "outbox_id", entry.ID, "kind", entry.Kind, "recipient", entry.RecipientEmail, "retries", entry.RetryCount, "error", err)
		} else {
			d.log.Warn("notification send failed, will retry", "outbox_id", entry.ID, "kind", entry.Kind, "recipient", entry.RecipientEmail, "retry_count", entry.RetryCount, "error", err)
		}
	} else {
		entry.MarkSent(now)
		d.log.Info("notification sent", "outbox_id", entry.ID, "kind", entry.Kind, "recipient", entry.RecipientEmail)
	}

	if err := d.store.Update(ctx, entry); err != nil {
		d.log.Error("outbox status update failed", "outbox_id", entry.ID, "error", err)
	}
}
