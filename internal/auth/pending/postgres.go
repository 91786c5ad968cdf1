package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"elogbook-sso/internal/db"
)

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(d *db.DB) *PostgresRepository {
	return &PostgresRepository{db: d}
}

func (r *PostgresRepository) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("pending: marshal payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_auth_states (state_id, payload, created_at)
		VALUES ($1, $2, $3)
	`, rec.StateID, payload, rec.CreatedAt)
	return err
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec Record
		raw []byte
	)
	if err := row.Scan(&rec.StateID, &raw, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &rec.Payload); err != nil {
		return nil, fmt.Errorf("pending: unmarshal payload: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) Get(ctx context.Context, stateID string) (*Record, error) {
	return scanRecord(r.db.QueryRowContext(ctx, `
		SELECT state_id, payload, created_at
		FROM pending_auth_states
		WHERE state_id = $1
	`, stateID))
}

func (r *PostgresRepository) Take(ctx context.Context, stateID string) (*Record, error) {
	return scanRecord(r.db.QueryRowContext(ctx, `
		DELETE FROM pending_auth_states
		WHERE state_id = $1
		RETURNING state_id, payload, created_at
	`, stateID))
}

func (r *PostgresRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_auth_states WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
