// Package model defines domain entities shared by the client session core,
// the account service and its repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// User is the identity record the client session holds. It is replaced
// wholesale on login and cleared on logout.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar,omitempty"`
}

// AuthTokens is the access/refresh credential pair. Both values are opaque.
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session is the login/register/refresh response body. A registration that
// still needs its email confirmed carries no tokens and sets
// VerificationRequired.
type Session struct {
	User                 User       `json:"user"`
	Tokens               AuthTokens `json:"tokens"`
	VerificationRequired bool       `json:"verificationRequired,omitempty"`
}

// Account is a user stored on the server. The password is never stored in plaintext.
type Account struct {
	ID        uuid.UUID // PK
	Email     string    // unique, lower-cased
	Name      string
	AvatarURL string
	PwdHash   []byte // Argon2id(password, Salt)
	Salt      []byte // per-account salt
	// EmailVerified is false only between registration and the email code
	// check when the server requires verification.
	EmailVerified bool
	CreatedAt     time.Time
}

// User projects the account onto the public identity record.
func (a Account) User() User {
	return User{ID: a.ID.String(), Email: a.Email, Name: a.Name, AvatarURL: a.AvatarURL}
}

// RefreshSession is a server-side record of an issued refresh token.
type RefreshSession struct {
	TokenHash []byte // sha256(refresh token)
	UserID    uuid.UUID
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// CodePurpose tells apart the one-time codes mailed to an account.
type CodePurpose string

const (
	CodeResetPassword CodePurpose = "reset_password"
	CodeVerifyEmail   CodePurpose = "verify_email"
)

// EmailCode is a pending one-time code; at most one per (email, purpose).
type EmailCode struct {
	Email     string
	Purpose   CodePurpose
	CodeHash  []byte // sha256(code)
	ExpiresAt time.Time
	UsedAt    *time.Time
}
