package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"elogbook-sso/internal/db"

	"github.com/google/uuid"
)

const accountColumns = `id, email, username, given_name, family_name, role,
	is_superuser, deleted_at, deleted_by, created_at, updated_at`

type PostgresRepository struct {
	db *db.DB
	q  db.Querier
}

func NewPostgresRepository(d *db.DB) *PostgresRepository {
	return &PostgresRepository{db: d, q: d}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a         Account
		role      string
		deletedAt sql.NullTime
		deletedBy sql.NullString
	)

	err := row.Scan(
		&a.ID, &a.Email, &a.Username, &a.GivenName, &a.FamilyName, &role,
		&a.IsSuperuser, &deletedAt, &deletedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.Role, err = ParseRole(role); err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		a.Status = Deleted{At: deletedAt.Time, By: deletedBy.String}
	} else {
		a.Status = Active{}
	}

	return &a, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *PostgresRepository) FindActiveByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
		  AND deleted_at IS NULL
	`, strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *PostgresRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)
	`, username).Scan(&exists)
	return exists, err
}

func deletionColumns(s Status) (sql.NullTime, sql.NullString) {
	if d, ok := s.(Deleted); ok {
		return sql.NullTime{Time: d.At, Valid: true}, sql.NullString{String: d.By, Valid: d.By != ""}
	}
	return sql.NullTime{}, sql.NullString{}
}

func (r *PostgresRepository) Create(ctx context.Context, a *Account) error {
	a.normalize()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	deletedAt, deletedBy := deletionColumns(a.Status)

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID, a.Email, a.Username, a.GivenName, a.FamilyName, a.Role.String(),
		a.IsSuperuser, deletedAt, deletedBy, a.CreatedAt, a.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (r *PostgresRepository) Update(ctx context.Context, a *Account) error {
	a.normalize()
	a.UpdatedAt = time.Now().UTC()

	deletedAt, deletedBy := deletionColumns(a.Status)

	res, err := r.q.ExecContext(ctx, `
		UPDATE accounts
		SET email = $2, username = $3, given_name = $4, family_name = $5,
		    role = $6, is_superuser = $7, deleted_at = $8, deleted_by = $9,
		    updated_at = $10
		WHERE id = $1
	`,
		a.ID, a.Email, a.Username, a.GivenName, a.FamilyName, a.Role.String(),
		a.IsSuperuser, deletedAt, deletedBy, a.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) LinkIdentity(ctx context.Context, id Identity) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO identities (account_id, provider, provider_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, provider_user_id) DO NOTHING
	`, id.AccountID, id.Provider, id.ProviderUserID)
	return err
}

func (r *PostgresRepository) ListIdentities(ctx context.Context, accountID uuid.UUID) ([]Identity, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT account_id, provider, provider_user_id
		FROM identities
		WHERE account_id = $1
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.AccountID, &id.Provider, &id.ProviderUserID); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// WithEmailLock takes a transaction-scoped advisory lock on the email and
// runs fn inside that transaction. The lock is released on commit or rollback.
func (r *PostgresRepository) WithEmailLock(ctx context.Context, email string, fn func(Repository) error) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext(LOWER($1)))`,
			strings.TrimSpace(email),
		); err != nil {
			return fmt.Errorf("account: email lock: %w", err)
		}
		return fn(&PostgresRepository{db: r.db, q: tx})
	})
}
