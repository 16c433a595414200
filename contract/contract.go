package contract

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxTitleLength = 200

// minExpiryLead is the minimum distance between "now" and a configured
// expiration date.
const minExpiryLead = time.Hour

// Contract is the aggregate root for a bilateral signing agreement. All
// status changes go through the transition methods below; the version
// counter backs optimistic concurrency in the repository.
type Contract struct {
	ID          string
	CreatorID   string
	TemplateID  *string
	Title       string
	Content     string
	FirstParty  PartyInfo
	SecondParty PartyInfo
	Status      Status
	Signatures  []SignatureRecord
	SignToken   string
	ExpiresAt   *time.Time
	PdfPath     *string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New creates a DRAFT contract with a fresh id and sign token.
func New(creatorID string, templateID *string, title, content string, first, second PartyInfo, expiresAt *time.Time, now time.Time) (*Contract, error) {
	if creatorID == "" {
		return nil, validationErr("creator id is required")
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if err := validateExpiry(expiresAt, now); err != nil {
		return nil, err
	}
	if first.Email == second.Email {
		return nil, validationErr("party emails must differ")
	}

	return &Contract{
		ID:          uuid.NewString(),
		CreatorID:   creatorID,
		TemplateID:  templateID,
		Title:       strings.TrimSpace(title),
		Content:     content,
		FirstParty:  first,
		SecondParty: second,
		Status:      StatusDraft,
		SignToken:   uuid.NewString(),
		ExpiresAt:   expiresAt,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func validateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return validationErr("title is required")
	}
	if len(trimmed) > maxTitleLength {
		return validationErr("title exceeds 200 characters")
	}
	return nil
}

func validateExpiry(expiresAt *time.Time, now time.Time) error {
	if expiresAt != nil && expiresAt.Before(now.Add(minExpiryLead)) {
		return validationErr("expiration must be at least one hour in the future")
	}
	return nil
}

// UpdateTitle changes the title. Allowed only while DRAFT.
func (c *Contract) UpdateTitle(title string, now time.Time) error {
	if !c.Status.CanUpdate() {
		return validationErr("title can only be updated in draft")
	}
	if err := validateTitle(title); err != nil {
		return err
	}
	c.Title = strings.TrimSpace(title)
	c.UpdatedAt = now
	return nil
}

// UpdateContent replaces the sanitized content. Allowed only while DRAFT.
func (c *Contract) UpdateContent(content string, now time.Time) error {
	if !c.Status.CanUpdate() {
		return validationErr("content can only be updated in draft")
	}
	c.Content = content
	c.UpdatedAt = now
	return nil
}

// UpdateExpiry changes the expiration date. Allowed only while DRAFT.
func (c *Contract) UpdateExpiry(expiresAt *time.Time, now time.Time) error {
	if !c.Status.CanUpdate() {
		return validationErr("expiration can only be updated in draft")
	}
	if err := validateExpiry(expiresAt, now); err != nil {
		return err
	}
	c.ExpiresAt = expiresAt
	c.UpdatedAt = now
	return nil
}

// SendForSigning moves DRAFT to PENDING.
func (c *Contract) SendForSigning(now time.Time) error {
	if c.Status != StatusDraft {
		return validationErr("only draft contracts can be sent for signing")
	}
	c.Status = StatusPending
	c.UpdatedAt = now
	return nil
}

// ApplySignature records one party's signature. A repeat submission by the
// same signer is a no-op returning the existing record, so clients can
// safely retry over an unreliable network. When the second distinct party
// signs, the contract auto-transitions to SIGNED. The added flag tells the
// caller whether anything changed and therefore needs persisting.
func (c *Contract) ApplySignature(signerEmail, signerName, imageRef, ipAddress, deviceInfo string, now time.Time) (rec SignatureRecord, added bool, err error) {
	email := NormalizeEmail(signerEmail)

	// Idempotency first: an already-captured signature wins over any status
	// check so retries after SIGNED still succeed.
	for _, existing := range c.Signatures {
		if existing.SignedBy(email) {
			return existing, false, nil
		}
	}

	if email != c.FirstParty.Email && email != c.SecondParty.Email {
		return SignatureRecord{}, false, authorizationErr("signer is not a party of this contract")
	}
	if !c.Status.CanSign() {
		return SignatureRecord{}, false, validationErr("contract is not awaiting signatures")
	}
	if c.IsExpired(now) {
		return SignatureRecord{}, false, validationErr("contract has expired")
	}

	rec = SignatureRecord{
		SignerEmail: email,
		SignerName:  strings.TrimSpace(signerName),
		SignedAt:    now,
		ImageRef:    imageRef,
		IPAddress:   ipAddress,
		DeviceInfo:  deviceInfo,
	}
	c.Signatures = append(c.Signatures, rec)
	c.UpdatedAt = now

	if c.FullySigned() {
		c.Status = StatusSigned
	}

	return rec, true, nil
}

// Complete moves SIGNED to COMPLETED.
func (c *Contract) Complete(now time.Time) error {
	if !c.Status.CanComplete() {
		return validationErr("only fully signed contracts can be completed")
	}
	c.Status = StatusCompleted
	c.UpdatedAt = now
	return nil
}

// Cancel moves DRAFT or PENDING to CANCELLED.
func (c *Contract) Cancel(now time.Time) error {
	if !c.Status.CanCancel() {
		return validationErr("only draft or pending contracts can be cancelled")
	}
	c.Status = StatusCancelled
	c.UpdatedAt = now
	return nil
}

// Expire moves any non-terminal state to EXPIRED.
func (c *Contract) Expire(now time.Time) error {
	if c.Status.Terminal() {
		return validationErr("contract already reached a terminal state")
	}
	c.Status = StatusExpired
	c.UpdatedAt = now
	return nil
}

// SignedBy reports whether the given email already has a signature record.
func (c *Contract) SignedBy(email string) bool {
	for _, rec := range c.Signatures {
		if rec.SignedBy(email) {
			return true
		}
	}
	return false
}

// FullySigned reports whether every party has exactly one signature record.
func (c *Contract) FullySigned() bool {
	return c.SignedBy(c.FirstParty.Email) && c.SignedBy(c.SecondParty.Email)
}

// IsExpired reports whether the expiration date, if any, has passed.
func (c *Contract) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// CanDelete reports whether deletion is still allowed.
func (c *Contract) CanDelete() bool {
	return c.Status == StatusDraft
}

// PendingSigners returns party emails that have not signed yet.
func (c *Contract) PendingSigners() []string {
	pending := make([]string, 0, 2)
	for _, party := range []PartyInfo{c.FirstParty, c.SecondParty} {
		if !c.SignedBy(party.Email) {
			pending = append(pending, party.Email)
		}
	}
	return pending
}

// Party returns the PartyInfo matching the given email, if any.
func (c *Contract) Party(email string) (PartyInfo, bool) {
	normalized := NormalizeEmail(email)
	switch normalized {
	case c.FirstParty.Email:
		return c.FirstParty, true
	case c.SecondParty.Email:
		return c.SecondParty, true
	}
	return PartyInfo{}, false
}
