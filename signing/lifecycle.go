package signing

import (
	"context"
	"fmt"
	"time"

	"signflow/contract"
	"signflow/outbox"
)

const expireBatchSize = 50

// SendForSigning moves a draft to PENDING and queues the signing request
// for the second party in the same transaction.
func (s *Coordinator) SendForSigning(ctx context.Context, contractID, actorID string) (*contract.Contract, error) {
	ct, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ct, actorID); err != nil {
		return nil, err
	}

	if err := ct.SendForSigning(s.now().UTC()); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.contracts.Save(ctx, tx, ct); err != nil {
		return nil, err
	}

	entry, err := s.outbox.Enqueue(ctx, tx, outbox.KindSigningRequest,
		ct.SecondParty.Email, ct.SecondParty.Name, s.signingVars(ct, ct.SecondParty), nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("signing: commit: %w", err)
	}

	s.dispatchAsync([]*outbox.Entry{entry})
	return ct, nil
}

// ResendSigningRequest re-queues the signing request for every party that
// has not signed yet. Allowed only while PENDING; no contract state
// changes.
func (s *Coordinator) ResendSigningRequest(ctx context.Context, contractID, actorID string) error {
	ct, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return err
	}
	if err := s.authorizeOwner(ct, actorID); err != nil {
		return err
	}
	if ct.Status != contract.StatusPending {
		return &contract.ValidationError{Reason: "signing request can only be resent while pending"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entries := make([]*outbox.Entry, 0, 2)
	for _, email := range ct.PendingSigners() {
		party, ok := ct.Party(email)
		if !ok {
			continue
		}
		entry, err := s.outbox.Enqueue(ctx, tx, outbox.KindSigningRequest,
			party.Email, party.Name, s.signingVars(ct, party), nil)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signing: commit: %w", err)
	}

	s.dispatchAsync(entries)
	return nil
}

// Cancel terminates a draft or pending contract and notifies both parties.
func (s *Coordinator) Cancel(ctx context.Context, contractID, actorID, reason string) (*contract.Contract, error) {
	ct, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ct, actorID); err != nil {
		return nil, err
	}

	if err := ct.Cancel(s.now().UTC()); err != nil {
		return nil, err
	}

	vars := map[string]any{
		"contractTitle":   ct.Title,
		"firstPartyName":  ct.FirstParty.Name,
		"secondPartyName": ct.SecondParty.Name,
		"companyName":     s.appName,
	}
	if reason != "" {
		vars["reason"] = reason
	}

	entries, err := s.saveWithPartyNotifications(ctx, ct, outbox.KindContractCancelled, vars)
	if err != nil {
		return nil, err
	}

	s.dispatchAsync(entries)
	return ct, nil
}

// Complete moves a fully signed contract to COMPLETED. The completed
// notifications were already queued when the SIGNED transition landed.
func (s *Coordinator) Complete(ctx context.Context, contractID, actorID string) (*contract.Contract, error) {
	ct, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ct, actorID); err != nil {
		return nil, err
	}

	if err := ct.Complete(s.now().UTC()); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.contracts.Save(ctx, tx, ct); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("signing: commit: %w", err)
	}

	return ct, nil
}

// ExpireDue transitions every contract whose expiration passed, one
// transaction per contract so a failure in one never blocks the batch.
// Returns the number of contracts expired.
func (s *Coordinator) ExpireDue(ctx context.Context) (int, error) {
	ids, err := s.contracts.ListExpiredIDs(ctx, s.now().UTC(), expireBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if err := s.expireOne(ctx, id); err != nil {
			s.log.Error("expire contract failed", "contract_id", id, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Coordinator) expireOne(ctx context.Context, contractID string) error {
	ct, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return err
	}

	if err := ct.Expire(s.now().UTC()); err != nil {
		// Raced with another transition; nothing left to do.
		return nil
	}

	vars := map[string]any{
		"contractTitle":   ct.Title,
		"firstPartyName":  ct.FirstParty.Name,
		"secondPartyName": ct.SecondParty.Name,
		"companyName":     s.appName,
	}
	if ct.ExpiresAt != nil {
		vars["expiredAt"] = ct.ExpiresAt.UTC().Format(time.RFC3339)
	}

	entries, err := s.saveWithPartyNotifications(ctx, ct, outbox.KindContractExpired, vars)
	if err != nil {
		return err
	}

	s.dispatchAsync(entries)
	return nil
}

// WarnExpiring queues an expiration warning to every pending signer of
// PENDING contracts that expire within the window. Returns the number of
// contracts warned about.
func (s *Coordinator) WarnExpiring(ctx context.Context, window time.Duration) (int, error) {
	now := s.now().UTC()
	ids, err := s.contracts.ListExpiringIDs(ctx, now, now.Add(window))
	if err != nil {
		return 0, err
	}

	warned := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return warned, ctx.Err()
		}
		if err := s.warnOne(ctx, id); err != nil {
			s.log.Error("expiration warning failed", "contract_id", id, "error", err)
			continue
		}
		warned++
	}
	return warned, nil
}

func (s *Coordinator) warnOne(ctx context.Context, contractID string) error {
	ct, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return err
	}
	if ct.Status != contract.StatusPending || ct.ExpiresAt == nil {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entries := make([]*outbox.Entry, 0, 2)
	for _, email := range ct.PendingSigners() {
		party, ok := ct.Party(email)
		if !ok {
			continue
		}
		vars := s.signingVars(ct, party)
		vars["expiresAt"] = ct.ExpiresAt.UTC().Format(time.RFC3339)
		entry, err := s.outbox.Enqueue(ctx, tx, outbox.KindExpirationWarning,
			party.Email, party.Name, vars, nil)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signing: commit: %w", err)
	}

	s.dispatchAsync(entries)
	return nil
}

// saveWithPartyNotifications persists the transition and queues one entry
// per party in the same transaction.
func (s *Coordinator) saveWithPartyNotifications(ctx context.Context, ct *contract.Contract, kind outbox.Kind, vars map[string]any) ([]*outbox.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.contracts.Save(ctx, tx, ct); err != nil {
		return nil, err
	}

	entries, err := s.enqueueForParties(ctx, tx, ct, kind, vars)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("signing: commit: %w", err)
	}

	return entries, nil
}

func (s *Coordinator) authorizeOwner(ct *contract.Contract, actorID string) error {
	if ct.CreatorID != actorID {
		return &contract.AuthorizationError{Reason: "caller does not own this contract"}
	}
	return nil
}
