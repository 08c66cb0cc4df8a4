package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a refresh session repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

const insertSession = `INSERT INTO refresh_sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`

// Create stores a new refresh session.
func (r *TokenRepo) Create(ctx context.Context, s model.RefreshSession) error {
	_, err := r.db.Pool.Exec(ctx, insertSession, s.TokenHash, s.UserID, s.ExpiresAt)
	return err
}

// Rotate swaps a live refresh session for next.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash []byte, next model.RefreshSession) (userID uuid.UUID, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, err
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

	const sel = `SELECT user_id, expires_at, revoked_at FROM refresh_sessions WHERE token_hash=$1 FOR UPDATE`
	var (
		expiresAt time.Time
		revokedAt *time.Time
	)
	if err = tx.QueryRow(ctx, sel, oldHash).Scan(&userID, &expiresAt, &revokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errs.ErrUnauthorized
		}
		return uuid.Nil, err
	}
	if revokedAt != nil || !time.Now().Before(expiresAt) {
		return uuid.Nil, errs.ErrUnauthorized
	}

	const revoke = `UPDATE refresh_sessions SET revoked_at=now() WHERE token_hash=$1`
	if _, err = tx.Exec(ctx, revoke, oldHash); err != nil {
		return uuid.Nil, err
	}
	if _, err = tx.Exec(ctx, insertSession, next.TokenHash, userID, next.ExpiresAt); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// RevokeAll revokes every live session of the user.
func (r *TokenRepo) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	const q = `UPDATE refresh_sessions SET revoked_at=now() WHERE user_id=$1 AND revoked_at IS NULL`
	_, err := r.db.Pool.Exec(ctx, q, userID)
	return err
}
