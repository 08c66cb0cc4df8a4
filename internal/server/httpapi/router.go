// Package httpapi exposes the account service over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/and161185/sessionkit/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Accounts is the service behind the handlers.
type Accounts interface {
	Register(ctx context.Context, email, password, name string) (model.Session, error)
	Login(ctx context.Context, email, password, ip string) (model.Session, error)
	Refresh(ctx context.Context, refreshToken string) (model.Session, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	Me(ctx context.Context, userID uuid.UUID) (model.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, name, avatarURL string) (model.User, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, password string) (model.Session, error)
	VerifyEmail(ctx context.Context, email, code string) (model.Session, error)
	ResendVerification(ctx context.Context, email string) error
	ParseAccessToken(tok string) (uuid.UUID, error)
}

// Pinger reports backing store health. May be nil.
type Pinger interface {
	Ping(ctx context.Context) error
}

type handler struct {
	svc  Accounts
	ping Pinger
	log  *zap.Logger
}

// NewRouter builds the API router.
func NewRouter(svc Accounts, ping Pinger, log *zap.Logger) *mux.Router {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{svc: svc, ping: ping, log: log.Named("http")}

	r := mux.NewRouter()
	r.Use(h.recoverer, h.accessLog)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email", h.verifyEmail).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email/resend", h.resendVerification).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/forgot", h.forgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/reset", h.resetPassword).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(h.requireAuth)
	authed.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	authed.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	authed.HandleFunc("/users/me", h.updateProfile).Methods(http.MethodPut)

	return r
}
