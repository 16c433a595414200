package signing

import (
	"context"
	"testing"
	"time"

	"signflow/contract"
	"signflow/outbox"
)

func TestCoordinator_SendForSigning(t *testing.T) {
	f := newFixture(t)
	ct := f.seedDraft(t)

	sent, err := f.coord.SendForSigning(context.Background(), ct.ID, "creator-1")
	if err != nil {
		t.Fatalf("send for signing: %v", err)
	}
	if sent.Status != contract.StatusPending {
		t.Fatalf("expected PENDING, got %s", sent.Status)
	}

	requests := f.writer.byKind(outbox.KindSigningRequest)
	if len(requests) != 1 {
		t.Fatalf("expected 1 signing request, got %d", len(requests))
	}
	if requests[0].RecipientEmail != "bob@example.com" {
		t.Fatalf("expected second party notified, got %q", requests[0].RecipientEmail)
	}
	if requests[0].Variables["contractUrl"] != "https://sign.example.com/sign/"+ct.SignToken {
		t.Fatalf("unexpected signing url %v", requests[0].Variables["contractUrl"])
	}

	f.dispatcher.await(t, 1)
}

func TestCoordinator_SendForSigningOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ct := f.seedDraft(t)

	if _, err := f.coord.SendForSigning(context.Background(), ct.ID, "intruder"); !contract.IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if f.contracts.saveCalls() != 0 {
		t.Fatal("rejected send must not write")
	}
}

func TestCoordinator_SendForSigningDraftOnly(t *testing.T) {
	f := newFixture(t)
	ct := f.seedPending(t)

	if _, err := f.coord.SendForSigning(context.Background(), ct.ID, "creator-1"); !contract.IsValidation(err) {
		t.Fatalf("expected validation error for non-draft, got %v", err)
	}
}

func TestCoordinator_ResendSigningRequest(t *testing.T) {
	f := newFixture(t)
	ct := f.seedPending(t)

	if _, err := f.coord.Sign(context.Background(), SignRequest{ContractID: ct.ID, SignerEmail: "alice@example.com", SignerName: "Alice"}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := f.coord.ResendSigningRequest(context.Background(), ct.ID, "creator-1"); err != nil {
		t.Fatalf("resend: %v", err)
	}

	requests := f.writer.byKind(outbox.KindSigningRequest)
	if len(requests) != 1 {
		t.Fatalf("expected 1 resent request, got %d", len(requests))
	}
	if requests[0].RecipientEmail != "bob@example.com" {
		t.Fatalf("expected only the unsigned party, got %q", requests[0].RecipientEmail)
	}
}

func TestCoordinator_ResendRequiresPending(t *testing.T) {
	f := newFixture(t)
	ct := f.seedDraft(t)

	if err := f.coord.ResendSigningRequest(context.Background(), ct.ID, "creator-1"); !contract.IsValidation(err) {
		t.Fatalf("expected validation error for draft, got %v", err)
	}
}

func TestCoordinator_Cancel(t *testing.T) {
	f := newFixture(t)
	ct := f.seedPending(t)

	cancelled, err := f.coord.Cancel(context.Background(), ct.ID, "creator-1", "deal fell through")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != contract.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	notices := f.writer.byKind(outbox.KindContractCancelled)
	if len(notices) != 2 {
		t.Fatalf("expected both parties notified, got %d", len(notices))
	}
	if notices[0].Variables["reason"] != "deal fell through" {
		t.Fatalf("expected reason in variables, got %v", notices[0].Variables)
	}
}

func TestCoordinator_CancelRejectedAfterSigned(t *testing.T) {
	f := newFixture(t)
	ct := f.seedPending(t)
	f.contracts.mutate(ct.ID, func(stored *contract.Contract) {
		stored.Status = contract.StatusSigned
	})

	if _, err := f.coord.Cancel(context.Background(), ct.ID, "creator-1", ""); !contract.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCoordinator_Complete(t *testing.T) {
	f := newFixture(t)
	ct := f.seedPending(t)
	f.contracts.mutate(ct.ID, func(stored *contract.Contract) {
		stored.Status = contract.StatusSigned
	})

	completed, err := f.coord.Complete(context.Background(), ct.ID, "creator-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != contract.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", completed.Status)
	}

	// Completed notifications were queued at the SIGNED transition, not here.
	if got := f.writer.byKind(outbox.KindContractCompleted); len(got) != 0 {
		t.Fatalf("expected no new completed entries, got %d", len(got))
	}
}

func TestCoordinator_ExpireDue(t *testing.T) {
	f := newFixture(t)
	past := testNow.Add(-time.Hour)

	due := f.seedPending(t)
	f.contracts.mutate(due.ID, func(stored *contract.Contract) {
		stored.ExpiresAt = &past
	})

	fresh := f.seedDraft(t)
	_ = fresh

	count, err := f.coord.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired contract, got %d", count)
	}

	if got := f.contracts.get(t, due.ID).Status; got != contract.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", got)
	}
	if got := f.writer.byKind(outbox.KindContractExpired); len(got) != 2 {
		t.Fatalf("expected both parties notified, got %d", len(got))
	}
}

func TestCoordinator_ExpireDueSkipsRacedTerminal(t *testing.T) {
	f := newFixture(t)
	past := testNow.Add(-time.Hour)

	ct := f.seedPending(t)
	f.contracts.mutate(ct.ID, func(stored *contract.Contract) {
		stored.ExpiresAt = &past
	})

	// Another worker expires the contract between list and load.
	f.contracts.mutate(ct.ID, func(stored *contract.Contract) {
		stored.Status = contract.StatusCancelled
	})

	count, err := f.coord.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 expired, got %d", count)
	}
	if got := f.writer.byKind(outbox.KindContractExpired); len(got) != 0 {
		t.Fatalf("expected no notifications for raced contract, got %d", len(got))
	}
}

func TestCoordinator_WarnExpiring(t *testing.T) {
	f := newFixture(t)
	soon := testNow.Add(12 * time.Hour)

	ct := f.seedPending(t)
	f.contracts.mutate(ct.ID, func(stored *contract.Contract) {
		stored.ExpiresAt = &soon
	})

	count, err := f.coord.WarnExpiring(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("warn expiring: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 contract warned, got %d", count)
	}

	warnings := f.writer.byKind(outbox.KindExpirationWarning)
	if len(warnings) != 2 {
		t.Fatalf("expected warning per pending signer, got %d", len(warnings))
	}
	for _, w := range warnings {
		if w.Variables["expiresAt"] != soon.UTC().Format(time.RFC3339) {
			t.Fatalf("expected expiresAt variable, got %v", w.Variables)
		}
	}
}

func TestCoordinator_WarnExpiringSkipsSignedParty(t *testing.T) {
	f := newFixture(t)
	soon := testNow.Add(12 * time.Hour)

	ct := f.seedPending(t)
	f.contracts.mutate(ct.ID, func(stored *contract.Contract) {
		stored.ExpiresAt = &soon
	})
	if _, err := f.coord.Sign(context.Background(), SignRequest{ContractID: ct.ID, SignerEmail: "alice@example.com", SignerName: "Alice"}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := f.coord.WarnExpiring(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("warn expiring: %v", err)
	}

	warnings := f.writer.byKind(outbox.KindExpirationWarning)
	if len(warnings) != 1 {
		t.Fatalf("expected only unsigned party warned, got %d", len(warnings))
	}
	if warnings[0].RecipientEmail != "bob@example.com" {
		t.Fatalf("expected bob warned, got %q", warnings[0].RecipientEmail)
	}
}
