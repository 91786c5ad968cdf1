package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"elogbook-sso/internal/db"

	"github.com/google/uuid"
)

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(d *db.DB) *PostgresRepository {
	return &PostgresRepository{db: d}
}

func (r *PostgresRepository) Append(ctx context.Context, e Entry) error {
	fields, err := json.Marshal(e.ChangedFields)
	if err != nil {
		return fmt.Errorf("audit: marshal changed fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO account_change_audit (account_id, provider, changed_fields, created_at)
		VALUES ($1, $2, $3, $4)
	`, e.AccountID, e.Provider, fields, e.Timestamp)
	return err
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, provider, changed_fields, created_at
		FROM account_change_audit
		WHERE account_id = $1
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			raw []byte
		)
		if err := rows.Scan(&e.AccountID, &e.Provider, &raw, &e.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.ChangedFields); err != nil {
			return nil, fmt.Errorf("audit: unmarshal changed fields: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
