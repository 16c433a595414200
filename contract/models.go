package contract

import (
	"net/mail"
	"strings"
	"time"
)

// Status enumerates the contract lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusSigned    Status = "SIGNED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// CanUpdate reports whether draft-only mutations (title, content, expiry)
// are still allowed.
func (s Status) CanUpdate() bool { return s == StatusDraft }

// CanSign reports whether signatures may be applied.
func (s Status) CanSign() bool { return s == StatusPending }

// CanComplete reports whether the contract may be completed.
func (s Status) CanComplete() bool { return s == StatusSigned }

// CanCancel reports whether the contract may be cancelled.
func (s Status) CanCancel() bool { return s == StatusDraft || s == StatusPending }

// Terminal reports whether the contract reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// PartyInfo identifies one signer of a contract. Immutable once constructed;
// the email is normalized to lower case.
type PartyInfo struct {
	Name         string
	Email        string
	Organization string
}

// NewPartyInfo validates and normalizes party details.
func NewPartyInfo(name, email, organization string) (PartyInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PartyInfo{}, validationErr("party name is required")
	}

	normalized := NormalizeEmail(email)
	if _, err := mail.ParseAddress(normalized); err != nil {
		return PartyInfo{}, validationErr("party email is malformed")
	}

	return PartyInfo{
		Name:         name,
		Email:        normalized,
		Organization: strings.TrimSpace(organization),
	}, nil
}

// NormalizeEmail lowers and trims an email address so that signer identity
// comparison is case-insensitive everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignatureRecord is the immutable fact that a party signed. At most one
// record per (contract, signer email) ever exists.
type SignatureRecord struct {
	SignerEmail string
	SignerName  string
	SignedAt    time.Time
	ImageRef    string
	IPAddress   string
	DeviceInfo  string
}

// SignedBy reports whether this record belongs to the given signer.
func (r SignatureRecord) SignedBy(email string) bool {
	return r.SignerEmail == NormalizeEmail(email)
}
