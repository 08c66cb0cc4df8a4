package postgres

import (
	"context"
	"errors"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

const accountCols = `id, email, name, avatar_url, pwd_hash, salt, email_verified, created_at`

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, email, name, avatar_url, pwd_hash, salt, email_verified)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.Email, a.Name, a.AvatarURL, a.PwdHash, a.Salt, a.EmailVerified)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return scanAccount(r.db.Pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id=$1`, id))
}

// GetByEmail selects an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return scanAccount(r.db.Pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE email=$1`, email))
}

// UpdateProfile changes name and avatar.
func (r *AccountRepo) UpdateProfile(ctx context.Context, id uuid.UUID, name, avatarURL string) (*model.Account, error) {
	const q = `UPDATE accounts SET name=$2, avatar_url=$3 WHERE id=$1 RETURNING ` + accountCols
	return scanAccount(r.db.Pool.QueryRow(ctx, q, id, name, avatarURL))
}

// UpdatePassword replaces the credential of the account.
func (r *AccountRepo) UpdatePassword(ctx context.Context, email string, pwdHash, salt []byte) error {
	const q = `UPDATE accounts SET pwd_hash=$2, salt=$3 WHERE email=$1`
	tag, err := r.db.Pool.Exec(ctx, q, email, pwdHash, salt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// MarkVerified confirms the email of the account.
func (r *AccountRepo) MarkVerified(ctx context.Context, email string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET email_verified=true WHERE email=$1`, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.AvatarURL, &a.PwdHash, &a.Salt, &a.EmailVerified, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
