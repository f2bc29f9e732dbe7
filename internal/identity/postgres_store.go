package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists identities in PostgreSQL. The lockout counter and
// lock-until pair are updated in single statements so concurrent attempts
// against the same identity serialize on the row without lost updates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed identity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `id, email, password_hash, role, COALESCE(totp_secret, ''), two_factor_enabled, failed_attempts, lock_until, last_login, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, id *Identity) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, password_hash, role, two_factor_enabled, failed_attempts, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, FALSE, 0, $5, $5)
	`, id.ID, id.Email, id.PasswordHash, string(id.Role), id.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrEmailTaken
	}
	return err
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*Identity, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = LOWER($1)`, email))
}

// RecordFailure performs the increment and conditional lock in one UPDATE,
// so two concurrent failures cannot both observe the pre-increment counter.
func (p *PostgresStore) RecordFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (*Identity, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE identities SET
			failed_attempts = failed_attempts + 1,
			lock_until = CASE
				WHEN failed_attempts + 1 >= $2 THEN $4::TIMESTAMPTZ + ($3 * INTERVAL '1 second')
				ELSE lock_until
			END,
			updated_at = $4
		WHERE id = $1
		RETURNING `+identityColumns, id, threshold, lockFor.Seconds(), at)
	return p.scanOne(row)
}

func (p *PostgresStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return p.exec(ctx, `
		UPDATE identities SET
			failed_attempts = 0,
			lock_until = NULL,
			last_login = $2,
			updated_at = $2
		WHERE id = $1
	`, id, at)
}

func (p *PostgresStore) SetPendingSecret(ctx context.Context, id, secret string) error {
	return p.exec(ctx, `
		UPDATE identities SET totp_secret = $2, updated_at = NOW() WHERE id = $1
	`, id, secret)
}

func (p *PostgresStore) EnableTwoFactor(ctx context.Context, id string) error {
	return p.exec(ctx, `
		UPDATE identities SET two_factor_enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND totp_secret IS NOT NULL
	`, id)
}

func (p *PostgresStore) DisableTwoFactor(ctx context.Context, id string) error {
	return p.exec(ctx, `
		UPDATE identities SET totp_secret = NULL, two_factor_enabled = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (p *PostgresStore) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := p.db.ExecContext(ctx, query, args...)
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

func (p *PostgresStore) scanOne(row *sql.Row) (*Identity, error) {
	ident := &Identity{}
	var role string
	var lockUntil, lastLogin sql.NullTime

	err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &role,
		&ident.TOTPSecret, &ident.TwoFactorEnabled, &ident.FailedAttempts,
		&lockUntil, &lastLogin, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ident.Role = Role(role)
	if lockUntil.Valid {
		t := lockUntil.Time
		ident.LockUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		ident.LastLogin = &t
	}
	return ident, nil
}
