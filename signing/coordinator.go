package signing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"

	"signflow/contract"
	"signflow/logger"
	"signflow/outbox"
	"signflow/pdf"
)

// ErrSigningConflict is surfaced when the optimistic-concurrency retry
// budget is exhausted. It is transient: the caller should resurface it as a
// "please retry" condition, never as a generic failure.
var ErrSigningConflict = errors.New("signing: concurrent update, please retry")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ContractRepository is the persistence surface the coordinator drives.
type ContractRepository interface {
	GetByID(ctx context.Context, id string) (*contract.Contract, error)
	GetBySignToken(ctx context.Context, token string) (*contract.Contract, error)
	Save(ctx context.Context, tx pgx.Tx, c *contract.Contract) error
	SetPdfPath(ctx context.Context, id, path string) error
	ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListExpiringIDs(ctx context.Context, now, until time.Time) ([]string, error)
}

// OutboxWriter enqueues notification intents inside the active transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, kind outbox.Kind, recipientEmail, recipientName string, variables map[string]any, attachments []outbox.Attachment) (*outbox.Entry, error)
}

// ImmediateDispatcher triggers the best-effort delivery path after commit.
type ImmediateDispatcher interface {
	DispatchByID(ctx context.Context, id string)
}

// BlobStore persists rendered PDFs.
type BlobStore interface {
	Store(ctx context.Context, data []byte, fileName, contentType, category string) (string, error)
}

// Coordinator drives contract lifecycle operations to durably persisted,
// consistent outcomes: every state change and its notifications commit in
// one transaction, and concurrent signature submissions are serialized by
// the contract's version counter rather than any in-process lock.
type Coordinator struct {
	pool       TxBeginner
	contracts  ContractRepository
	outbox     OutboxWriter
	dispatcher ImmediateDispatcher
	pdfGen     pdf.Generator
	blobs      BlobStore
	log        *logger.Logger

	baseURL    string
	appName    string
	maxRetries int
	now        func() time.Time
	sleep      func(attempt int)
}

func NewCoordinator(pool TxBeginner, contracts ContractRepository, writer OutboxWriter, log *logger.Logger, baseURL, appName string, maxRetries int) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Coordinator{
		pool:       pool,
		contracts:  contracts,
		outbox:     writer,
		log:        log,
		baseURL:    baseURL,
		appName:    appName,
		maxRetries: maxRetries,
		now:        time.Now,
		sleep:      jitterSleep,
	}
}

// WithDispatcher wires the immediate delivery path.
func (s *Coordinator) WithDispatcher(d ImmediateDispatcher) *Coordinator {
	s.dispatcher = d
	return s
}

// WithPdfPipeline wires PDF rendering and blob storage for completed
// contracts.
func (s *Coordinator) WithPdfPipeline(gen pdf.Generator, blobs BlobStore) *Coordinator {
	s.pdfGen = gen
	s.blobs = blobs
	return s
}

// SignRequest captures one signature submission.
type SignRequest struct {
	ContractID  string
	SignToken   string
	SignerEmail string
	SignerName  string
	ImageRef    string
	IPAddress   string
	DeviceInfo  string
}

// SignResult reports the outcome of a signing attempt.
type SignResult struct {
	Contract    *contract.Contract
	Record      contract.SignatureRecord
	FullySigned bool
}

// Sign applies one signature. On a version conflict the whole sequence is
// re-run from a fresh load, not just the write, so a signature applied by a
// concurrent writer is taken into account; idempotent re-application makes
// the loop converge. When the second party's signature lands, the SIGNED
// transition and the completed notifications for both parties commit in the
// same transaction; PDF rendering runs after commit, off the transaction.
func (s *Coordinator) Sign(ctx context.Context, req SignRequest) (SignResult, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			s.sleep(attempt)
		}

		result, err := s.signOnce(ctx, req)
		if err != nil {
			if errors.Is(err, contract.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return SignResult{}, err
		}
		return result, nil
	}

	s.log.Warn("signature retry budget exhausted", "contract_id", req.ContractID, "signer", req.SignerEmail, "attempts", s.maxRetries)
	return SignResult{}, fmt.Errorf("%w: %w", ErrSigningConflict, lastErr)
}

func (s *Coordinator) signOnce(ctx context.Context, req SignRequest) (SignResult, error) {
	ct, err := s.loadForSigning(ctx, req)
	if err != nil {
		return SignResult{}, err
	}

	now := s.now().UTC()
	if ct.Status == contract.StatusPending && ct.IsExpired(now) {
		s.expireNow(ctx, ct)
		return SignResult{}, &contract.ValidationError{Reason: "contract has expired"}
	}

	rec, added, err := ct.ApplySignature(req.SignerEmail, req.SignerName, req.ImageRef, req.IPAddress, req.DeviceInfo, now)
	if err != nil {
		return SignResult{}, err
	}

	result := SignResult{Contract: ct, Record: rec, FullySigned: ct.FullySigned()}
	if !added {
		// Retry of an already-captured signature: nothing to persist.
		return result, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SignResult{}, fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.contracts.Save(ctx, tx, ct); err != nil {
		return SignResult{}, err
	}

	var entries []*outbox.Entry
	if ct.Status == contract.StatusSigned {
		entries, err = s.enqueueForParties(ctx, tx, ct, outbox.KindContractCompleted, s.completedVars(ct))
		if err != nil {
			return SignResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SignResult{}, fmt.Errorf("signing: commit: %w", err)
	}

	s.dispatchAsync(entries)
	if ct.Status == contract.StatusSigned {
		go s.renderAndStorePdf(ct)
	}

	return result, nil
}

func (s *Coordinator) loadForSigning(ctx context.Context, req SignRequest) (*contract.Contract, error) {
	if req.SignToken != "" {
		return s.contracts.GetBySignToken(ctx, req.SignToken)
	}
	return s.contracts.GetByID(ctx, req.ContractID)
}

// expireNow transitions a stale contract discovered during signing. Best
// effort: the periodic expiration sweep covers any failure here.
func (s *Coordinator) expireNow(ctx context.Context, ct *contract.Contract) {
	if err := s.expireOne(ctx, ct.ID); err != nil {
		s.log.Warn("inline expiration failed, sweep will retry", "contract_id", ct.ID, "error", err)
	}
}

// renderAndStorePdf renders the fully signed contract and records the
// stored path. Failures are logged; the signature outcome is already
// durable and must not be affected.
func (s *Coordinator) renderAndStorePdf(ct *contract.Contract) {
	if s.pdfGen == nil || s.blobs == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fileName := fmt.Sprintf("contract-%s.pdf", ct.ID)
	doc, err := s.pdfGen.GenerateFromHTML(ctx, ct.Content, fileName)
	if err != nil {
		s.log.Error("pdf generation failed", "contract_id", ct.ID, "error", err)
		return
	}

	path, err := s.blobs.Store(ctx, doc.Content, doc.FileName, doc.ContentType(), "contracts/completed")
	if err != nil {
		s.log.Error("pdf store failed", "contract_id", ct.ID, "error", err)
		return
	}

	if err := s.contracts.SetPdfPath(ctx, ct.ID, path); err != nil {
		s.log.Error("pdf path update failed", "contract_id", ct.ID, "path", path, "error", err)
		return
	}

	s.log.Info("contract pdf stored", "contract_id", ct.ID, "path", path)
}

func (s *Coordinator) enqueueForParties(ctx context.Context, tx pgx.Tx, ct *contract.Contract, kind outbox.Kind, vars map[string]any) ([]*outbox.Entry, error) {
	entries := make([]*outbox.Entry, 0, 2)
	for _, party := range []contract.PartyInfo{ct.FirstParty, ct.SecondParty} {
		entry, err := s.outbox.Enqueue(ctx, tx, kind, party.Email, party.Name, vars, nil)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// dispatchAsync fires the immediate delivery path after the triggering
// transaction committed. The sweep covers the case where this goroutine
// never runs.
func (s *Coordinator) dispatchAsync(entries []*outbox.Entry) {
	if s.dispatcher == nil || len(entries) == 0 {
		return
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		for _, id := range ids {
			s.dispatcher.DispatchByID(ctx, id)
		}
	}()
}

func (s *Coordinator) signingURL(ct *contract.Contract) string {
	return s.baseURL + "/sign/" + ct.SignToken
}

func (s *Coordinator) signingVars(ct *contract.Contract, signer contract.PartyInfo) map[string]any {
	vars := map[string]any{
		"contractTitle":   ct.Title,
		"firstPartyName":  ct.FirstParty.Name,
		"firstPartyEmail": ct.FirstParty.Email,
		"secondPartyName": ct.SecondParty.Name,
		"signerName":      signer.Name,
		"contractUrl":     s.signingURL(ct),
		"companyName":     s.appName,
	}
	if ct.ExpiresAt != nil {
		vars["expiresAt"] = ct.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return vars
}

func (s *Coordinator) completedVars(ct *contract.Contract) map[string]any {
	return map[string]any{
		"contractTitle":   ct.Title,
		"firstPartyName":  ct.FirstParty.Name,
		"secondPartyName": ct.SecondParty.Name,
		"completedAt":     ct.UpdatedAt.UTC().Format(time.RFC3339),
		"companyName":     s.appName,
	}
}

func jitterSleep(attempt int) {
	base := time.Duration(attempt) * 10 * time.Millisecond
	time.Sleep(base + time.Duration(rand.Intn(20))*time.Millisecond)
}
