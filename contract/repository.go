package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists contracts and their signature records. Writes go
// through a compare-and-swap on the version column; the signature table is
// append-only with a uniqueness guard per (contract, signer).
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const contractColumns = `
id, creator_id, template_id, title, content,
first_party_name, first_party_email, first_party_org,
second_party_name, second_party_email, second_party_org,
status, sign_token, expires_at, pdf_path, version, created_at, updated_at
`

// Create inserts a new DRAFT contract.
func (r *Repository) Create(ctx context.Context, c *Contract) error {
	const insertSQL = `
INSERT INTO contracts (
    id, creator_id, template_id, title, content,
    first_party_name, first_party_email, first_party_org,
    second_party_name, second_party_email, second_party_org,
    status, sign_token, expires_at, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`
	_, err := r.pool.Exec(ctx, insertSQL,
		c.ID, c.CreatorID, c.TemplateID, c.Title, c.Content,
		c.FirstParty.Name, c.FirstParty.Email, nullable(c.FirstParty.Organization),
		c.SecondParty.Name, c.SecondParty.Email, nullable(c.SecondParty.Organization),
		c.Status, c.SignToken, c.ExpiresAt, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("contract: insert: %w", err)
	}
	return nil
}

// GetByID loads one contract with its ordered signature records.
func (r *Repository) GetByID(ctx context.Context, id string) (*Contract, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

// GetBySignToken resolves a signer-facing link token to its contract.
func (r *Repository) GetBySignToken(ctx context.Context, token string) (*Contract, error) {
	return r.getBy(ctx, `WHERE sign_token = $1`, token)
}

func (r *Repository) getBy(ctx context.Context, where string, arg any) (*Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts ` + where

	var (
		c        Contract
		firstOrg *string
		secOrg   *string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.CreatorID, &c.TemplateID, &c.Title, &c.Content,
		&c.FirstParty.Name, &c.FirstParty.Email, &firstOrg,
		&c.SecondParty.Name, &c.SecondParty.Email, &secOrg,
		&c.Status, &c.SignToken, &c.ExpiresAt, &c.PdfPath, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("contract: load: %w", err)
	}
	if firstOrg != nil {
		c.FirstParty.Organization = *firstOrg
	}
	if secOrg != nil {
		c.SecondParty.Organization = *secOrg
	}

	if err := r.loadSignatures(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) loadSignatures(ctx context.Context, c *Contract) error {
	const query = `
SELECT signer_email, signer_name, signed_at, image_ref, ip_address, device_info
FROM contract_signatures
WHERE contract_id = $1
ORDER BY signed_at, signer_email
`
	rows, err := r.pool.Query(ctx, query, c.ID)
	if err != nil {
		return fmt.Errorf("contract: list signatures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec    SignatureRecord
			device *string
		)
		if err := rows.Scan(&rec.SignerEmail, &rec.SignerName, &rec.SignedAt, &rec.ImageRef, &rec.IPAddress, &device); err != nil {
			return fmt.Errorf("contract: scan signature: %w", err)
		}
		if device != nil {
			rec.DeviceInfo = *device
		}
		c.Signatures = append(c.Signatures, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("contract: iterate signatures: %w", err)
	}
	return nil
}

// Save persists the aggregate inside the caller's transaction. The update
// only lands if the stored version still matches the version the aggregate
// was loaded with; otherwise ErrVersionConflict is returned and the caller
// must reload and reapply. Signature rows are inserted append-only; a
// conflicting row means the record already exists and is left untouched.
func (r *Repository) Save(ctx context.Context, tx pgx.Tx, c *Contract) error {
	const updateSQL = `
UPDATE contracts
SET title = $3,
    content = $4,
    status = $5,
    expires_at = $6,
    pdf_path = $7,
    version = version + 1,
    updated_at = $8
WHERE id = $1 AND version = $2
`
	tag, err := tx.Exec(ctx, updateSQL,
		c.ID, c.Version, c.Title, c.Content, c.Status, c.ExpiresAt, c.PdfPath, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("contract: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	const sigSQL = `
INSERT INTO contract_signatures (contract_id, signer_email, signer_name, signed_at, image_ref, ip_address, device_info)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (contract_id, signer_email) DO NOTHING
`
	for _, rec := range c.Signatures {
		if _, err := tx.Exec(ctx, sigSQL,
			c.ID, rec.SignerEmail, rec.SignerName, rec.SignedAt, rec.ImageRef, rec.IPAddress, nullable(rec.DeviceInfo),
		); err != nil {
			return fmt.Errorf("contract: insert signature: %w", err)
		}
	}

	c.Version++
	return nil
}

// SetPdfPath records the stored PDF location after completion. Runs outside
// the signing transaction, so it bumps the version unconditionally.
func (r *Repository) SetPdfPath(ctx context.Context, id, path string) error {
	const query = `
UPDATE contracts
SET pdf_path = $2,
    version = version + 1,
    updated_at = now()
WHERE id = $1
`
	tag, err := r.pool.Exec(ctx, query, id, path)
	if err != nil {
		return fmt.Errorf("contract: set pdf path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a contract while it is still a draft.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM contracts WHERE id = $1 AND status = 'DRAFT'`, id)
	if err != nil {
		return fmt.Errorf("contract: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return validationErr("only draft contracts can be deleted")
	}
	return nil
}

// ListExpiredIDs returns contracts whose expiration passed and whose state
// is still non-terminal, bounded for the expiration sweep.
func (r *Repository) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `
SELECT id
FROM contracts
WHERE expires_at IS NOT NULL
  AND expires_at <= $1
  AND status NOT IN ('COMPLETED','CANCELLED','EXPIRED')
ORDER BY expires_at
LIMIT $2
`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("contract: list expired: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("contract: scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate expired ids: %w", err)
	}
	return ids, nil
}

// ListExpiringIDs returns PENDING contracts expiring inside (now, until],
// used for expiration warnings.
func (r *Repository) ListExpiringIDs(ctx context.Context, now, until time.Time) ([]string, error) {
	const query = `
SELECT id
FROM contracts
WHERE status = 'PENDING'
  AND expires_at IS NOT NULL
  AND expires_at > $1
  AND expires_at <= $2
ORDER BY expires_at
`
	rows, err := r.pool.Query(ctx, query, now, until)
	if err != nil {
		return nil, fmt.Errorf("contract: list expiring: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("contract: scan expiring id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate expiring ids: %w", err)
	}
	return ids, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
