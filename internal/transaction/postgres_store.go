package transaction

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists transactions in PostgreSQL. Resolve relies on a
// conditional UPDATE keyed on status = 'pending' for its compare-and-set.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, owner_id, amount, currency, type, status, requires_approval, approver_id, approved_at, risk_score, two_factor_verified, from_account, to_account, COALESCE(description, ''), created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, amount, currency, type, status, requires_approval, risk_score, two_factor_verified, from_account, to_account, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $13)
	`, rec.ID, rec.OwnerID, rec.Amount, rec.Currency, string(rec.Type), string(rec.Status),
		rec.RequiresApproval, rec.RiskScore, rec.TwoFactorVerified,
		rec.FromAccount, rec.ToAccount, rec.Description, rec.CreatedAt)
	return err
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*Record, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Record, int64, error) {
	return p.list(ctx,
		`FROM transactions WHERE owner_id = $1`, ownerID, limit, offset)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Record, int64, error) {
	return p.list(ctx,
		`FROM transactions WHERE status = $1`, string(status), limit, offset)
}

// Resolve succeeds only while the row is still pending. A second resolver
// matches zero rows and is told the record left the pending state.
func (p *PostgresStore) Resolve(ctx context.Context, id string, status Status, approverID string, at time.Time) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE transactions SET
			status = $2,
			approver_id = $3,
			approved_at = $4,
			updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+transactionColumns,
		id, string(status), approverID, at)

	rec, err := p.scanOne(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing record from a lost race.
		if _, getErr := p.GetByID(ctx, id); getErr == nil {
			return nil, ErrNotPending
		}
		return nil, ErrNotFound
	}
	return rec, err
}

func (p *PostgresStore) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Record, int64, error) {
	var total int64
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) `+where, arg).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` `+where+` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Record, error) {
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func scan(row rowScanner) (*Record, error) {
	rec := &Record{}
	var typ, status string
	var approverID sql.NullString
	var approvedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Amount, &rec.Currency, &typ, &status,
		&rec.RequiresApproval, &approverID, &approvedAt, &rec.RiskScore,
		&rec.TwoFactorVerified, &rec.FromAccount, &rec.ToAccount, &rec.Description,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Type = Type(typ)
	rec.Status = Status(status)
	if approverID.Valid {
		v := approverID.String
		rec.ApproverID = &v
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		rec.ApprovedAt = &t
	}
	return rec, nil
}
