// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/sessionkit/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository stores user accounts.
type AccountRepository interface {
	// Create inserts a new account; errs.ErrAlreadyExists if the email is taken.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByEmail loads an account by its normalized email.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// UpdateProfile sets display name and avatar and returns the updated row.
	UpdateProfile(ctx context.Context, id uuid.UUID, name, avatarURL string) (*model.Account, error)
	// UpdatePassword replaces the password hash and salt of the account with email.
	UpdatePassword(ctx context.Context, email string, pwdHash, salt []byte) error
	// MarkVerified flags the email of the account as confirmed.
	MarkVerified(ctx context.Context, email string) error
}

// TokenRepository stores refresh sessions by token hash.
type TokenRepository interface {
	Create(ctx context.Context, s model.RefreshSession) error
	// Rotate revokes the live session with oldHash and stores next for the same
	// user in one transaction. Unknown, revoked or expired sessions give
	// errs.ErrUnauthorized.
	Rotate(ctx context.Context, oldHash []byte, next model.RefreshSession) (uuid.UUID, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

// CodeRepository stores mailed one-time codes, one per (email, purpose).
type CodeRepository interface {
	// Put stores c, replacing an earlier code with the same email and purpose.
	Put(ctx context.Context, c model.EmailCode) error
	// Consume runs apply for a matching, unexpired, unused code and marks the
	// code used only if apply succeeds. Anything else is errs.ErrInvalidCode.
	// A code cannot be consumed twice, even concurrently.
	Consume(ctx context.Context, purpose model.CodePurpose, email string, codeHash []byte, apply func(context.Context) error) error
}
