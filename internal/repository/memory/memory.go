// Package memory holds in-process repository implementations for
// development servers and handler tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/and161185/sessionkit/internal/repository"
	"github.com/gofrs/uuid/v5"
)

var (
	_ repository.AccountRepository = (*Accounts)(nil)
	_ repository.TokenRepository   = (*Tokens)(nil)
	_ repository.CodeRepository    = (*Codes)(nil)
)

// Accounts stores accounts by ID.
type Accounts struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]model.Account
}

func NewAccounts() *Accounts { return &Accounts{byID: map[uuid.UUID]model.Account{}} }

func (r *Accounts) Create(_ context.Context, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.byID {
		if x.Email == a.Email {
			return errs.ErrAlreadyExists
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.byID[a.ID] = *a
	return nil
}

func (r *Accounts) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (r *Accounts) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *Accounts) UpdateProfile(_ context.Context, id uuid.UUID, name, avatarURL string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	a.Name, a.AvatarURL = name, avatarURL
	r.byID[id] = a
	return &a, nil
}

func (r *Accounts) UpdatePassword(_ context.Context, email string, pwdHash, salt []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.byID {
		if a.Email == email {
			a.PwdHash, a.Salt = pwdHash, salt
			r.byID[id] = a
			return nil
		}
	}
	return errs.ErrNotFound
}

func (r *Accounts) MarkVerified(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.byID {
		if a.Email == email {
			a.EmailVerified = true
			r.byID[id] = a
			return nil
		}
	}
	return errs.ErrNotFound
}

// Tokens stores refresh sessions by hash.
type Tokens struct {
	mu     sync.Mutex
	byHash map[string]model.RefreshSession
}

func NewTokens() *Tokens { return &Tokens{byHash: map[string]model.RefreshSession{}} }

func (r *Tokens) Create(_ context.Context, s model.RefreshSession) error {
	r.mu.Lock()
	r.byHash[string(s.TokenHash)] = s
	r.mu.Unlock()
	return nil
}

func (r *Tokens) Rotate(_ context.Context, oldHash []byte, next model.RefreshSession) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byHash[string(oldHash)]
	now := time.Now()
	if !ok || old.RevokedAt != nil || !now.Before(old.ExpiresAt) {
		return uuid.Nil, errs.ErrUnauthorized
	}
	old.RevokedAt = &now
	r.byHash[string(oldHash)] = old
	next.UserID = old.UserID
	r.byHash[string(next.TokenHash)] = next
	return old.UserID, nil
}

func (r *Tokens) RevokeAll(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for h, s := range r.byHash {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			r.byHash[h] = s
		}
	}
	return nil
}

// Codes stores one pending code per (email, purpose).
type Codes struct {
	mu    sync.Mutex
	codes map[codeKey]model.EmailCode
}

type codeKey struct {
	email   string
	purpose model.CodePurpose
}

func NewCodes() *Codes { return &Codes{codes: map[codeKey]model.EmailCode{}} }

func (r *Codes) Put(_ context.Context, c model.EmailCode) error {
	r.mu.Lock()
	c.UsedAt = nil
	r.codes[codeKey{c.Email, c.Purpose}] = c
	r.mu.Unlock()
	return nil
}

// Consume holds the lock across apply, so a code is used at most once.
func (r *Codes) Consume(ctx context.Context, purpose model.CodePurpose, email string, codeHash []byte, apply func(context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := codeKey{email, purpose}
	c, ok := r.codes[k]
	if !ok || c.UsedAt != nil || string(c.CodeHash) != string(codeHash) || !time.Now().Before(c.ExpiresAt) {
		return errs.ErrInvalidCode
	}
	if err := apply(ctx); err != nil {
		return err
	}
	now := time.Now()
	c.UsedAt = &now
	r.codes[k] = c
	return nil
}
