package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"signflow/template"
)

// Sanitizer strips unsafe markup from contract content before it is
// persisted. Must be idempotent.
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the persistence surface the creation workflow needs.
type Store interface {
	Create(ctx context.Context, c *Contract) error
	GetByID(ctx context.Context, id string) (*Contract, error)
	Save(ctx context.Context, tx pgx.Tx, c *Contract) error
	Delete(ctx context.Context, id string) error
}

// CreationService authors drafts: renders template variables, sanitizes the
// result, and persists the new aggregate. Draft-only mutations and deletion
// also live here; everything after sendForSigning belongs to the signing
// coordinator.
type CreationService struct {
	pool      TxBeginner
	store     Store
	sanitizer Sanitizer
	now       func() time.Time
}

func NewCreationService(pool TxBeginner, store Store, sanitizer Sanitizer) *CreationService {
	return &CreationService{
		pool:      pool,
		store:     store,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// CreateParams enumerates the inputs for a new draft.
type CreateParams struct {
	CreatorID   string
	TemplateID  *string
	Title       string
	Content     string
	Variables   map[string]string
	FirstParty  PartyInfo
	SecondParty PartyInfo
	ExpiresAt   *time.Time
}

// Create renders, sanitizes, and persists a new DRAFT contract.
func (s *CreationService) Create(ctx context.Context, params CreateParams) (*Contract, error) {
	content := template.RenderWithVariables(params.Content, params.Variables)
	content = s.sanitizer.Sanitize(content)

	ct, err := New(params.CreatorID, params.TemplateID, params.Title, content,
		params.FirstParty, params.SecondParty, params.ExpiresAt, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// UpdateParams carries optional draft mutations; nil fields are left
// untouched.
type UpdateParams struct {
	Title     *string
	Content   *string
	ExpiresAt *time.Time
	ClearTime bool
}

// Update applies draft-only mutations under the owner's authority.
func (s *CreationService) Update(ctx context.Context, contractID, actorID string, params UpdateParams) (*Contract, error) {
	ct, err := s.store.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if ct.CreatorID != actorID {
		return nil, authorizationErr("caller does not own this contract")
	}

	now := s.now().UTC()
	if params.Title != nil {
		if err := ct.UpdateTitle(*params.Title, now); err != nil {
			return nil, err
		}
	}
	if params.Content != nil {
		if err := ct.UpdateContent(s.sanitizer.Sanitize(*params.Content), now); err != nil {
			return nil, err
		}
	}
	if params.ExpiresAt != nil || params.ClearTime {
		if err := ct.UpdateExpiry(params.ExpiresAt, now); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Save(ctx, tx, ct); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("contract: commit: %w", err)
	}

	return ct, nil
}

// Delete removes a draft. Contracts that started signing are retained.
func (s *CreationService) Delete(ctx context.Context, contractID, actorID string) error {
	ct, err := s.store.GetByID(ctx, contractID)
	if err != nil {
		return err
	}
	if ct.CreatorID != actorID {
		return authorizationErr("caller does not own this contract")
	}
	if !ct.CanDelete() {
		return validationErr("only draft contracts can be deleted")
	}
	return s.store.Delete(ctx, ct.ID)
}
