// Package authctx carries the authenticated user between transport
// middleware and handlers.
package authctx

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const userIDKey ctxKey = "sk.userID"

// WithUserID stores authenticated user ID in context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromCtx fetches user ID from context.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// BearerToken extracts the token of an "Authorization: Bearer" value.
func BearerToken(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}
