package postgres

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/jackc/pgx/v5"
)

// CodeRepo implements CodeRepository using PostgreSQL.
type CodeRepo struct{ db *DB }

// NewCodeRepo constructs an email code repository.
func NewCodeRepo(db *DB) *CodeRepo { return &CodeRepo{db: db} }

// Put stores c, replacing any earlier code for the same email and purpose.
func (r *CodeRepo) Put(ctx context.Context, c model.EmailCode) error {
	const q = `
INSERT INTO email_codes (email, purpose, code_hash, expires_at, used_at)
VALUES ($1, $2, $3, $4, NULL)
ON CONFLICT (email, purpose) DO UPDATE SET code_hash=EXCLUDED.code_hash, expires_at=EXCLUDED.expires_at, used_at=NULL`
	_, err := r.db.Pool.Exec(ctx, q, c.Email, string(c.Purpose), c.CodeHash, c.ExpiresAt)
	return err
}

// Consume locks the code row, runs apply and marks the code used in the same
// transaction. A failing apply rolls back and leaves the code usable.
func (r *CodeRepo) Consume(ctx context.Context, purpose model.CodePurpose, email string, codeHash []byte, apply func(context.Context) error) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `
SELECT code_hash, expires_at, used_at FROM email_codes
WHERE email=$1 AND purpose=$2 FOR UPDATE`
	var (
		stored    []byte
		expiresAt time.Time
		usedAt    *time.Time
	)
	if err = tx.QueryRow(ctx, sel, email, string(purpose)).Scan(&stored, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errs.ErrInvalidCode
		}
		return err
	}
	if usedAt != nil || !time.Now().Before(expiresAt) || subtle.ConstantTimeCompare(stored, codeHash) != 1 {
		return errs.ErrInvalidCode
	}

	if err = apply(ctx); err != nil {
		return err
	}
	const use = `UPDATE email_codes SET used_at=now() WHERE email=$1 AND purpose=$2`
	_, err = tx.Exec(ctx, use, email, string(purpose))
	return err
}
