// Package session holds the client's authentication session: who is logged in,
// backed by the credential vault for durability across restarts.
package session

import (
	"context"
	"sync"

	"github.com/and161185/sessionkit/internal/model"
	"github.com/and161185/sessionkit/internal/vault"
	"go.uber.org/zap"
)

// Store is the single in-memory source of truth for the session. Tokens are
// never held in memory; they live in the vault.
//
// Each action holds mu across its vault I/O and the state update, so a
// concurrent SetAuth and ClearAuth cannot interleave their writes.
type Store struct {
	vault vault.Vault
	log   *zap.Logger

	mu    sync.Mutex
	state State

	subMu  sync.Mutex
	subs   map[int]chan State
	nextID int
}

// NewStore returns a store in the Uninitialized state.
func NewStore(v vault.Vault, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		vault: v,
		log:   log.Named("session"),
		state: initialState(),
		subs:  map[int]chan State{},
	}
}

// State returns a snapshot of the current session.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// SetAuth persists tokens and marks user as logged in. If a vault write fails
// the error is returned and the in-memory state is left unchanged.
func (s *Store) SetAuth(ctx context.Context, user model.User, tokens model.AuthTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.vault.Set(ctx, vault.KeyAccessToken, tokens.AccessToken); err != nil {
		return err
	}
	if err := s.vault.Set(ctx, vault.KeyRefreshToken, tokens.RefreshToken); err != nil {
		return err
	}
	s.setLocked(State{User: &user, IsLoggedIn: true, Status: StatusAuthenticated})
	s.log.Info("session established", zap.String("user_id", user.ID))
	return nil
}

// ClearAuth removes both tokens and logs out. Calling it repeatedly is safe.
func (s *Store) ClearAuth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.vault.Delete(ctx, vault.KeyAccessToken); err != nil {
		return err
	}
	if err := s.vault.Delete(ctx, vault.KeyRefreshToken); err != nil {
		return err
	}
	s.setLocked(loggedOut())
	s.log.Info("session cleared")
	return nil
}

// SetUser replaces the user record without touching the vault. A nil user
// logs out in memory only.
func (s *Store) SetUser(user *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	if user != nil {
		u := *user
		next.User = &u
		next.IsLoggedIn = true
		next.Status = StatusAuthenticated
	} else {
		next.User = nil
		next.IsLoggedIn = false
		next.Status = StatusUnauthenticated
	}
	s.setLocked(next)
}

// SetLoading toggles the loading flag only.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	next.IsLoading = loading
	s.setLocked(next)
}

// GetTokens reads both tokens. It returns nil, nil when either one is missing
// or empty: a half-written pair counts as no session.
func (s *Store) GetTokens(ctx context.Context) (*model.AuthTokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokensLocked(ctx)
}

func (s *Store) tokensLocked(ctx context.Context) (*model.AuthTokens, error) {
	access, ok, err := s.vault.Get(ctx, vault.KeyAccessToken)
	if err != nil {
		return nil, err
	}
	if !ok || access == "" {
		return nil, nil
	}
	refresh, ok, err := s.vault.Get(ctx, vault.KeyRefreshToken)
	if err != nil {
		return nil, err
	}
	if !ok || refresh == "" {
		return nil, nil
	}
	return &model.AuthTokens{AccessToken: access, RefreshToken: refresh}, nil
}

// AccessToken returns the stored access token, or "" when there is none.
// It is the token getter handed to the request clients.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	t, err := s.GetTokens(ctx)
	if err != nil || t == nil {
		return "", err
	}
	return t.AccessToken, nil
}

// Initialize restores the session at startup. Found tokens lead to
// StatusPendingProfile (logged in, user unknown until fetched); anything else,
// including a vault error, leads to a logged-out state. It never fails.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(State{IsLoading: true, Status: StatusRestoring})

	tokens, err := s.tokensLocked(ctx)
	switch {
	case err != nil:
		s.log.Error("session restore failed", zap.Error(err))
		s.setLocked(loggedOut())
	case tokens != nil:
		s.log.Info("session restored, profile pending")
		s.setLocked(State{IsLoggedIn: true, Status: StatusPendingProfile})
	default:
		s.setLocked(loggedOut())
	}
}

// Subscribe returns a channel receiving every state change, starting with the
// current state. A slow subscriber only sees the latest state. cancel closes
// the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	ch <- s.state.clone()
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) setLocked(next State) {
	s.state = next
	s.notify(next)
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		// drop a stale pending value so the newest one always fits
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st.clone():
		default:
		}
	}
}
