package outbox

import "time"

// Kind is the closed set of notification types the dispatcher can render.
type Kind string

const (
	KindSigningRequest    Kind = "SIGNING_REQUEST"
	KindContractCompleted Kind = "CONTRACT_COMPLETED"
	KindContractCancelled Kind = "CONTRACT_CANCELLED"
	KindContractExpired   Kind = "CONTRACT_EXPIRED"
	KindExpirationWarning Kind = "EXPIRATION_WARNING"
	KindAccountLocked     Kind = "ACCOUNT_LOCKED"
)

// Valid reports whether k is a known notification kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSigningRequest, KindContractCompleted, KindContractCancelled,
		KindContractExpired, KindExpirationWarning, KindAccountLocked:
		return true
	}
	return false
}

// Status is the delivery state of one outbox entry.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Attachment is a file shipped with a notification, serialized into the
// entry row so the sweep can re-send it after a crash.
type Attachment struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Entry is one durable, individually-dispatchable notification request.
// Created once, mutated only by the dispatcher, never deleted.
type Entry struct {
	ID             string
	Kind           Kind
	RecipientEmail string
	RecipientName  string
	Variables      map[string]any
	Attachments    []Attachment
	Status         Status
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
	LastError      *string
	CreatedAt      time.Time
	SentAt         *time.Time
}
