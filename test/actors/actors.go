package actors

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"signflow/outbox"
	"signflow/signing"
)

// Signer repeatedly submits one party's signature for the same contract.
// Conflicts and repeats are the point: the submission must converge to
// exactly one signature row no matter how often it runs. Transient errors
// (version-conflict budget, chaos-killed backends) are absorbed; the
// oracles judge the resulting database state.
func Signer(ctx context.Context, coord *signing.Coordinator, contractID, email, name string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := coord.Sign(ctx, signing.SignRequest{
			ContractID:  contractID,
			SignerEmail: email,
			SignerName:  name,
			IPAddress:   "127.0.0.1",
			DeviceInfo:  "stress-actor",
		})
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		// Validation errors appear once the contract leaves PENDING, which
		// is expected here.
		_ = err

		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Resender re-queues signing requests while the contract is pending.
func Resender(ctx context.Context, coord *signing.Coordinator, contractID, ownerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		// Rejected once the contract leaves PENDING; chaos can also kill the
		// backing connection mid-tx. Both are absorbed.
		_ = coord.ResendSigningRequest(ctx, contractID, ownerID)

		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Completer promotes the contract to COMPLETED once it is fully signed.
func Completer(ctx context.Context, coord *signing.Coordinator, contractID, ownerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := coord.Complete(ctx, contractID, ownerID)
		_ = err // rejected until SIGNED, rejected again after COMPLETED

		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Sweeper runs the outbox sweep in a tight loop, racing the immediate
// dispatch path for the same entries.
func Sweeper(ctx context.Context, dispatcher *outbox.Dispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		dispatcher.Sweep(ctx)
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Expirer drives the expiration batch the way the scheduler would.
func Expirer(ctx context.Context, coord *signing.Coordinator, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := coord.ExpireDue(ctx); err != nil && errors.Is(err, context.Canceled) {
			return err
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// FlakyTransport delivers notifications but fails a configurable fraction
// of attempts, exercising the retry and backoff machinery.
type FlakyTransport struct {
	FailEveryN int
	sent       atomic.Int64
	failed     atomic.Int64
}

func (t *FlakyTransport) Send(ctx context.Context, entry *outbox.Entry) error {
	if t.FailEveryN > 0 && rand.Intn(t.FailEveryN) == 0 {
		t.failed.Add(1)
		return errors.New("flaky transport: simulated failure")
	}
	t.sent.Add(1)
	return nil
}

func (t *FlakyTransport) Sent() int64   { return t.sent.Load() }
func (t *FlakyTransport) Failed() int64 { return t.failed.Load() }
