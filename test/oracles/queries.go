package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each must yield zero rows on a
// consistent database; any row is a counterexample.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_signature_per_signer",
			SQL: `SELECT contract_id, lower(signer_email), COUNT(*)
                  FROM contract_signatures
                  GROUP BY contract_id, lower(signer_email)
                  HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_status_in_lifecycle",
			SQL: `SELECT id, status FROM contracts
                  WHERE status NOT IN ('DRAFT','PENDING','SIGNED','COMPLETED','CANCELLED','EXPIRED')`,
		},
		{
			Name: "O3_signed_means_both_signatures",
			SQL: `SELECT c.id, c.status, COUNT(s.id) AS sigs
                  FROM contracts c
                  LEFT JOIN contract_signatures s ON s.contract_id = c.id
                  WHERE c.status IN ('SIGNED','COMPLETED')
                  GROUP BY c.id, c.status
                  HAVING COUNT(s.id) <> 2`,
		},
		{
			Name: "O4_signatures_only_from_parties",
			SQL: `SELECT s.contract_id, s.signer_email
                  FROM contract_signatures s
                  JOIN contracts c ON c.id = s.contract_id
                  WHERE lower(s.signer_email) NOT IN (lower(c.first_party_email), lower(c.second_party_email))`,
		},
		{
			Name: "O5_exactly_one_completed_notification_set",
			SQL: `SELECT c.id, COUNT(o.id)
                  FROM contracts c
                  JOIN outbox_entries o ON o.kind = 'CONTRACT_COMPLETED'
                       AND lower(o.recipient_email) IN (lower(c.first_party_email), lower(c.second_party_email))
                  WHERE c.status IN ('SIGNED','COMPLETED')
                  GROUP BY c.id
                  HAVING COUNT(o.id) <> 2`,
		},
		{
			Name: "O6_no_completed_entries_without_signed",
			SQL: `SELECT o.id FROM outbox_entries o
                  WHERE o.kind = 'CONTRACT_COMPLETED'
                    AND NOT EXISTS (
                        SELECT 1 FROM contracts c
                        WHERE c.status IN ('SIGNED','COMPLETED','EXPIRED')
                          AND lower(o.recipient_email) IN (lower(c.first_party_email), lower(c.second_party_email)))`,
		},
		{
			Name: "O7_sent_entries_are_settled",
			SQL: `SELECT id FROM outbox_entries
                  WHERE status = 'SENT' AND (sent_at IS NULL OR next_retry_at IS NOT NULL)`,
		},
		{
			Name: "O8_retry_count_bounded",
			SQL: `SELECT id, retry_count, max_retries FROM outbox_entries
                  WHERE retry_count > max_retries`,
		},
		{
			Name: "O9_failed_terminal_only_at_budget",
			SQL: `SELECT id, retry_count, max_retries FROM outbox_entries
                  WHERE status = 'FAILED' AND next_retry_at IS NULL AND retry_count < max_retries`,
		},
		{
			Name: "O10_version_positive",
			SQL:  `SELECT id, version FROM contracts WHERE version < 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
