package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/and161185/sessionkit/internal/server/authctx"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps service errors onto statuses. Messages of unexpected
// errors stay in the log.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := http.StatusInternalServerError
	msg := "internal"
	switch {
	case errors.Is(err, errs.ErrValidation):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, errs.ErrInvalidCode):
		code, msg = http.StatusBadRequest, "invalid or expired code"
	case errors.Is(err, errs.ErrUnauthorized):
		code, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrUnverified):
		code, msg = http.StatusForbidden, "email not verified"
	case errors.Is(err, errs.ErrNotFound):
		code, msg = http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		code, msg = http.StatusConflict, "already exists"
	case errors.Is(err, errs.ErrRateLimited):
		code, msg = http.StatusTooManyRequests, "too many attempts"
	default:
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", errs.ErrValidation, err)
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping.Ping(r.Context()); err != nil {
			h.log.Warn("health: store unavailable", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var in model.RegisterRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	sess, err := h.svc.Register(r.Context(), in.Email, in.Password, in.Name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if sess.VerificationRequired {
		writeJSON(w, http.StatusAccepted, sess)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var in model.VerifyEmailRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	sess, err := h.svc.VerifyEmail(r.Context(), in.Email, in.Code)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var in model.ResendVerificationRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.svc.ResendVerification(r.Context(), in.Email); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var in model.LoginRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	sess, err := h.svc.Login(r.Context(), in.Email, in.Password, clientIP(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var in model.RefreshRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	sess, err := h.svc.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	uid, _ := authctx.UserIDFromCtx(r.Context())
	if err := h.svc.Logout(r.Context(), uid); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	uid, _ := authctx.UserIDFromCtx(r.Context())
	u, err := h.svc.Me(r.Context(), uid)
	if err != nil {
		// a valid token for a deleted account
		if errors.Is(err, errs.ErrNotFound) {
			err = errs.ErrUnauthorized
		}
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in model.ProfileUpdate
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	uid, _ := authctx.UserIDFromCtx(r.Context())
	u, err := h.svc.UpdateProfile(r.Context(), uid, in.Name, in.AvatarURL)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in model.ForgotPasswordRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), in.Email); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in model.ResetPasswordRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	sess, err := h.svc.ResetPassword(r.Context(), in.Email, in.Code, in.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
