// Package service contains the account service behind the API server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/sessionkit/internal/crypto"
	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/limiter"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/and161185/sessionkit/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// MinPasswordLen is the shortest password accepted on register and reset.
const MinPasswordLen = 8

// clockSkew is tolerated when validating access token time claims.
const clockSkew = 30 * time.Second

// Config holds token settings.
type Config struct {
	SignKey    []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// ResetTTL bounds every mailed code, verification codes included.
	ResetTTL time.Duration
	// RequireVerification holds new accounts back until the mailed
	// verification code is confirmed.
	RequireVerification bool
}

// CodeSender delivers a one-time code to the owner of email.
type CodeSender func(ctx context.Context, purpose model.CodePurpose, email, code string) error

// AccountService implements registration, login, token rotation and
// profile/password management.
type AccountService struct {
	accounts repository.AccountRepository
	tokens   repository.TokenRepository
	codes    repository.CodeRepository
	lim      limiter.Limiter
	cfg      Config
	log      *zap.Logger
	send     CodeSender
	now      func() time.Time
}

// NewAccountService constructs the service. Mailed codes are written to the
// log until WithCodeSender installs a real delivery channel.
func NewAccountService(
	accounts repository.AccountRepository,
	tokens repository.TokenRepository,
	codes repository.CodeRepository,
	lim limiter.Limiter,
	cfg Config,
	log *zap.Logger,
) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AccountService{
		accounts: accounts,
		tokens:   tokens,
		codes:    codes,
		lim:      lim,
		cfg:      cfg,
		log:      log.Named("accounts"),
		now:      time.Now,
	}
	s.send = s.logCode
	return s
}

// WithCodeSender replaces code delivery.
func (s *AccountService) WithCodeSender(fn CodeSender) *AccountService {
	s.send = fn
	return s
}

func (s *AccountService) logCode(_ context.Context, purpose model.CodePurpose, email, code string) error {
	s.log.Info("code issued", zap.String("purpose", string(purpose)), zap.String("email", email), zap.String("code", code))
	return nil
}

// NormalizeEmail lower-cases and trims an email and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", errs.ErrValidation)
	}
	return email, nil
}

func checkPassword(p string) error {
	if len(p) < MinPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", errs.ErrValidation, MinPasswordLen)
	}
	return nil
}

// Register creates an account and opens a session for it.
func (s *AccountService) Register(ctx context.Context, email, password, name string) (model.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return model.Session{}, err
	}
	if err := checkPassword(password); err != nil {
		return model.Session{}, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.Session{}, err
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return model.Session{}, err
	}
	a := &model.Account{
		ID:            uid,
		Email:         email,
		Name:          strings.TrimSpace(name),
		PwdHash:       pkgcrypto.HashPassword([]byte(password), salt),
		Salt:          salt,
		EmailVerified: !s.cfg.RequireVerification,
		CreatedAt:     s.now(),
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return model.Session{}, err
	}
	s.log.Info("account registered", zap.String("user_id", uid.String()), zap.Bool("verified", a.EmailVerified))
	if !a.EmailVerified {
		if err := s.issueCode(ctx, model.CodeVerifyEmail, email); err != nil {
			return model.Session{}, err
		}
		return model.Session{User: a.User(), VerificationRequired: true}, nil
	}
	return s.issueSession(ctx, a)
}

// VerifyEmail confirms a registration with the mailed code and opens the
// first session of the account.
func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) (model.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return model.Session{}, err
	}
	err = s.codes.Consume(ctx, model.CodeVerifyEmail, email, pkgcrypto.HashSecret(strings.TrimSpace(code)),
		func(ctx context.Context) error { return s.accounts.MarkVerified(ctx, email) })
	if err != nil {
		return model.Session{}, err
	}
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return model.Session{}, err
	}
	return s.issueSession(ctx, a)
}

// ResendVerification mails a fresh verification code. Like ForgotPassword it
// does not reveal whether the account exists or is already verified.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	if a.EmailVerified {
		return nil
	}
	return s.issueCode(ctx, model.CodeVerifyEmail, email)
}

// Login authenticates with rate limiting by (email, ip).
func (s *AccountService) Login(ctx context.Context, email, password, ip string) (model.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		return model.Session{}, errs.ErrRateLimited
	}

	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Session{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), a.Salt, a.PwdHash) {
		blocked, _, ferr := s.lim.Failure(ctx, email, ipHash)
		if ferr != nil {
			s.log.Warn("limiter failure record", zap.Error(ferr))
		}
		if blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return model.Session{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, email, ipHash); err != nil {
		s.log.Warn("limiter reset", zap.Error(err))
	}
	if !a.EmailVerified {
		return model.Session{}, errs.ErrUnverified
	}
	return s.issueSession(ctx, a)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (model.Session, error) {
	if refreshToken == "" {
		return model.Session{}, errs.ErrUnauthorized
	}
	next, raw, err := s.newRefresh(uuid.Nil)
	if err != nil {
		return model.Session{}, err
	}
	uid, err := s.tokens.Rotate(ctx, pkgcrypto.HashSecret(refreshToken), next)
	if err != nil {
		return model.Session{}, err
	}
	a, err := s.accounts.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Session{}, errs.ErrUnauthorized
		}
		return model.Session{}, err
	}
	access, err := s.issueAccessToken(a.ID)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{User: a.User(), Tokens: model.AuthTokens{AccessToken: access, RefreshToken: raw}}, nil
}

// Logout revokes every refresh session of the user.
func (s *AccountService) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.tokens.RevokeAll(ctx, userID)
}

// Me returns the profile of the user.
func (s *AccountService) Me(ctx context.Context, userID uuid.UUID) (model.User, error) {
	a, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return a.User(), nil
}

// UpdateProfile changes name and avatar.
func (s *AccountService) UpdateProfile(ctx context.Context, userID uuid.UUID, name, avatarURL string) (model.User, error) {
	name, avatarURL = strings.TrimSpace(name), strings.TrimSpace(avatarURL)
	if name == "" {
		return model.User{}, fmt.Errorf("%w: name is required", errs.ErrValidation)
	}
	a, err := s.accounts.UpdateProfile(ctx, userID, name, avatarURL)
	if err != nil {
		return model.User{}, err
	}
	return a.User(), nil
}

// ForgotPassword issues a reset code when the email has an account. The
// result does not reveal whether it does.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := s.accounts.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.issueCode(ctx, model.CodeResetPassword, email)
}

// ResetPassword sets a new password with a reset code, ends every other
// session of the account and opens a new one. The code stays usable if the
// password write fails.
func (s *AccountService) ResetPassword(ctx context.Context, email, code, password string) (model.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return model.Session{}, err
	}
	if err := checkPassword(password); err != nil {
		return model.Session{}, err
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return model.Session{}, err
	}
	err = s.codes.Consume(ctx, model.CodeResetPassword, email, pkgcrypto.HashSecret(strings.TrimSpace(code)),
		func(ctx context.Context) error {
			if err := s.accounts.UpdatePassword(ctx, email, pkgcrypto.HashPassword([]byte(password), salt), salt); err != nil {
				return err
			}
			// the code reached the mailbox, so the address is proven
			return s.accounts.MarkVerified(ctx, email)
		})
	if err != nil {
		return model.Session{}, err
	}
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return model.Session{}, err
	}
	if err := s.tokens.RevokeAll(ctx, a.ID); err != nil {
		return model.Session{}, err
	}
	return s.issueSession(ctx, a)
}

func (s *AccountService) issueCode(ctx context.Context, purpose model.CodePurpose, email string) error {
	code, err := pkgcrypto.NewEmailCode()
	if err != nil {
		return err
	}
	c := model.EmailCode{Email: email, Purpose: purpose, CodeHash: pkgcrypto.HashSecret(code), ExpiresAt: s.now().Add(s.cfg.ResetTTL)}
	if err := s.codes.Put(ctx, c); err != nil {
		return err
	}
	return s.send(ctx, purpose, email, code)
}

// ParseAccessToken verifies an HS256 access token and returns its subject.
func (s *AccountService) ParseAccessToken(tok string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		return s.cfg.SignKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return id, nil
}

func (s *AccountService) issueSession(ctx context.Context, a *model.Account) (model.Session, error) {
	access, err := s.issueAccessToken(a.ID)
	if err != nil {
		return model.Session{}, err
	}
	rs, raw, err := s.newRefresh(a.ID)
	if err != nil {
		return model.Session{}, err
	}
	if err := s.tokens.Create(ctx, rs); err != nil {
		return model.Session{}, err
	}
	return model.Session{User: a.User(), Tokens: model.AuthTokens{AccessToken: access, RefreshToken: raw}}, nil
}

func (s *AccountService) newRefresh(userID uuid.UUID) (model.RefreshSession, string, error) {
	raw, err := pkgcrypto.NewRefreshToken()
	if err != nil {
		return model.RefreshSession{}, "", err
	}
	return model.RefreshSession{
		TokenHash: pkgcrypto.HashSecret(raw),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.cfg.RefreshTTL),
	}, raw, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AccountService) issueAccessToken(userID uuid.UUID) (string, error) {
	now := s.now()
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		ID:        id.String(),
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SignKey)
}
