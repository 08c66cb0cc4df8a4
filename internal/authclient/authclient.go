// Package authclient implements the account flows of the client on top of
// the authenticated request client and the session store.
package authclient

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/and161185/sessionkit/internal/session"
	"go.uber.org/zap"
)

// API endpoints.
const (
	PathLogin              = "/auth/login"
	PathRegister           = "/auth/register"
	PathVerifyEmail        = "/auth/verify-email"
	PathResendVerification = "/auth/verify-email/resend"
	PathLogout             = "/auth/logout"
	PathMe                 = "/auth/me"
	PathRefresh            = "/auth/refresh"
	PathForgot             = "/auth/password/forgot"
	PathReset              = "/auth/password/reset"
	PathProfile            = "/users/me"
)

// ErrVerificationPending is returned by Register when the server wants the
// email confirmed before it opens a session.
var ErrVerificationPending = errors.New("email verification pending")

// API is the subset of apiclient.Client the service uses.
type API interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// Service drives the session store from account API responses.
type Service struct {
	api   API
	store *session.Store
	log   *zap.Logger
}

// New returns a Service. The API client is expected to draw its token from
// store and to invalidate store on 401.
func New(api API, store *session.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{api: api, store: store, log: log}
}

// Login authenticates and persists the returned session.
func (s *Service) Login(ctx context.Context, email, password string) (model.User, error) {
	const op = "authclient.Login"
	email = normEmail(email)
	if email == "" || password == "" {
		return model.User{}, errs.E(errs.KindValidation, op, errs.ErrValidation)
	}
	var out model.Session
	if err := s.api.Do(ctx, http.MethodPost, PathLogin, model.LoginRequest{Email: email, Password: password}, &out); err != nil {
		return model.User{}, err
	}
	return s.establish(ctx, op, out)
}

// Register creates an account and logs into it. When the server requires
// email verification no session is stored and the error is
// ErrVerificationPending; VerifyEmail completes the login.
func (s *Service) Register(ctx context.Context, email, password, name string) (model.User, error) {
	const op = "authclient.Register"
	email = normEmail(email)
	if email == "" || password == "" {
		return model.User{}, errs.E(errs.KindValidation, op, errs.ErrValidation)
	}
	var out model.Session
	in := model.RegisterRequest{Email: email, Password: password, Name: strings.TrimSpace(name)}
	if err := s.api.Do(ctx, http.MethodPost, PathRegister, in, &out); err != nil {
		return model.User{}, err
	}
	if out.VerificationRequired {
		return out.User, ErrVerificationPending
	}
	return s.establish(ctx, op, out)
}

// VerifyEmail confirms the address with the mailed code and persists the
// session the server opens.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (model.User, error) {
	const op = "authclient.VerifyEmail"
	email, code = normEmail(email), strings.TrimSpace(code)
	if email == "" || code == "" {
		return model.User{}, errs.E(errs.KindValidation, op, errs.ErrValidation)
	}
	var out model.Session
	if err := s.api.Do(ctx, http.MethodPost, PathVerifyEmail, model.VerifyEmailRequest{Email: email, Code: code}, &out); err != nil {
		return model.User{}, err
	}
	return s.establish(ctx, op, out)
}

// ResendVerification asks for a fresh verification code.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = normEmail(email)
	if email == "" {
		return errs.E(errs.KindValidation, "authclient.ResendVerification", errs.ErrValidation)
	}
	return s.api.Do(ctx, http.MethodPost, PathResendVerification, model.ResendVerificationRequest{Email: email}, nil)
}

// Logout tells the server (best effort) and clears local credentials.
func (s *Service) Logout(ctx context.Context) error {
	tokens, err := s.store.GetTokens(ctx)
	if err != nil {
		s.log.Warn("logout: read tokens", zap.Error(err))
	}
	if tokens != nil {
		if err := s.api.Do(ctx, http.MethodPost, PathLogout, nil, nil); err != nil {
			s.log.Warn("logout: server call failed", zap.Error(err))
		}
	}
	return s.store.ClearAuth(ctx)
}

// CurrentUser fetches the profile and stores it in the session.
func (s *Service) CurrentUser(ctx context.Context) (model.User, error) {
	var u model.User
	if err := s.api.Do(ctx, http.MethodGet, PathMe, nil, &u); err != nil {
		return model.User{}, err
	}
	s.store.SetUser(&u)
	return u, nil
}

// Restore initializes the session from the vault and, when tokens were
// found, resolves the profile. A 401 while resolving has already logged the
// session out and is not reported; other errors leave the session pending.
func (s *Service) Restore(ctx context.Context) (session.State, error) {
	s.store.Initialize(ctx)
	if s.store.State().Status != session.StatusPendingProfile {
		return s.store.State(), nil
	}
	if _, err := s.CurrentUser(ctx); err != nil {
		if errs.KindOf(err) == errs.KindUnauthorized {
			return s.store.State(), nil
		}
		return s.store.State(), err
	}
	return s.store.State(), nil
}

// Refresh exchanges the stored refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context) (model.User, error) {
	const op = "authclient.Refresh"
	tokens, err := s.store.GetTokens(ctx)
	if err != nil {
		return model.User{}, err
	}
	if tokens == nil {
		return model.User{}, errs.E(errs.KindUnauthorized, op, errs.ErrUnauthorized)
	}
	var out model.Session
	if err := s.api.Do(ctx, http.MethodPost, PathRefresh, model.RefreshRequest{RefreshToken: tokens.RefreshToken}, &out); err != nil {
		return model.User{}, err
	}
	return s.establish(ctx, op, out)
}

// ForgotPassword asks the server to issue a reset code for email.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normEmail(email)
	if email == "" {
		return errs.E(errs.KindValidation, "authclient.ForgotPassword", errs.ErrValidation)
	}
	return s.api.Do(ctx, http.MethodPost, PathForgot, model.ForgotPasswordRequest{Email: email}, nil)
}

// ResetPassword sets a new password using a reset code. The server ends
// every other session and the returned one replaces whatever was stored.
func (s *Service) ResetPassword(ctx context.Context, email, code, password string) (model.User, error) {
	const op = "authclient.ResetPassword"
	email = normEmail(email)
	if email == "" || code == "" || password == "" {
		return model.User{}, errs.E(errs.KindValidation, op, errs.ErrValidation)
	}
	var out model.Session
	in := model.ResetPasswordRequest{Email: email, Code: strings.TrimSpace(code), Password: password}
	if err := s.api.Do(ctx, http.MethodPost, PathReset, in, &out); err != nil {
		return model.User{}, err
	}
	return s.establish(ctx, op, out)
}

// UpdateProfile changes display name and avatar.
func (s *Service) UpdateProfile(ctx context.Context, name, avatarURL string) (model.User, error) {
	var u model.User
	in := model.ProfileUpdate{Name: strings.TrimSpace(name), AvatarURL: strings.TrimSpace(avatarURL)}
	if err := s.api.Do(ctx, http.MethodPut, PathProfile, in, &u); err != nil {
		return model.User{}, err
	}
	s.store.SetUser(&u)
	return u, nil
}

func (s *Service) establish(ctx context.Context, op string, out model.Session) (model.User, error) {
	if out.Tokens.AccessToken == "" || out.Tokens.RefreshToken == "" {
		return model.User{}, errs.E(errs.KindDecode, op, errors.New("response without tokens"))
	}
	if err := s.store.SetAuth(ctx, out.User, out.Tokens); err != nil {
		return model.User{}, err
	}
	s.log.Info("session established", zap.String("user_id", out.User.ID))
	return out.User, nil
}

func normEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
