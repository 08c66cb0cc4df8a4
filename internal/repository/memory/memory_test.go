package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	r := NewAccounts()
	a := &model.Account{ID: uuid.Must(uuid.NewV4()), Email: "a@b.c", Name: "A"}

	require.NoError(t, r.Create(ctx, a))
	require.ErrorIs(t, r.Create(ctx, &model.Account{ID: uuid.Must(uuid.NewV4()), Email: "a@b.c"}), errs.ErrAlreadyExists)

	got, err := r.GetByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)

	_, err = r.UpdateProfile(ctx, a.ID, "B", "x")
	require.NoError(t, err)
	got, _ = r.GetByID(ctx, a.ID)
	require.Equal(t, "B", got.Name)

	require.NoError(t, r.UpdatePassword(ctx, "a@b.c", []byte("h"), []byte("s")))
	require.ErrorIs(t, r.UpdatePassword(ctx, "x@b.c", nil, nil), errs.ErrNotFound)
	_, err = r.GetByID(ctx, uuid.Nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTokens_RotateAndRevoke(t *testing.T) {
	ctx := context.Background()
	r := NewTokens()
	uid := uuid.Must(uuid.NewV4())
	exp := time.Now().Add(time.Hour)

	require.NoError(t, r.Create(ctx, model.RefreshSession{TokenHash: []byte("a"), UserID: uid, ExpiresAt: exp}))
	got, err := r.Rotate(ctx, []byte("a"), model.RefreshSession{TokenHash: []byte("b"), ExpiresAt: exp})
	require.NoError(t, err)
	require.Equal(t, uid, got)

	_, err = r.Rotate(ctx, []byte("a"), model.RefreshSession{TokenHash: []byte("c"), ExpiresAt: exp})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	require.NoError(t, r.RevokeAll(ctx, uid))
	_, err = r.Rotate(ctx, []byte("b"), model.RefreshSession{TokenHash: []byte("d"), ExpiresAt: exp})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAccounts_MarkVerified(t *testing.T) {
	ctx := context.Background()
	r := NewAccounts()
	require.NoError(t, r.Create(ctx, &model.Account{ID: uuid.Must(uuid.NewV4()), Email: "a@b.c"}))
	require.NoError(t, r.MarkVerified(ctx, "a@b.c"))
	got, err := r.GetByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.ErrorIs(t, r.MarkVerified(ctx, "x@b.c"), errs.ErrNotFound)
}

func TestCodes(t *testing.T) {
	ctx := context.Background()
	r := NewCodes()
	nop := func(context.Context) error { return nil }
	exp := time.Now().Add(time.Hour)

	require.NoError(t, r.Put(ctx, model.EmailCode{Email: "a", Purpose: model.CodeResetPassword, CodeHash: []byte("h"), ExpiresAt: exp}))
	require.ErrorIs(t, r.Consume(ctx, model.CodeResetPassword, "a", []byte("x"), nop), errs.ErrInvalidCode)
	require.ErrorIs(t, r.Consume(ctx, model.CodeVerifyEmail, "a", []byte("h"), nop), errs.ErrInvalidCode, "purposes are separate")

	boom := errors.New("write failed")
	require.ErrorIs(t, r.Consume(ctx, model.CodeResetPassword, "a", []byte("h"), func(context.Context) error { return boom }), boom)
	require.NoError(t, r.Consume(ctx, model.CodeResetPassword, "a", []byte("h"), nop), "failed apply keeps the code")
	require.ErrorIs(t, r.Consume(ctx, model.CodeResetPassword, "a", []byte("h"), nop), errs.ErrInvalidCode)

	require.NoError(t, r.Put(ctx, model.EmailCode{Email: "b", Purpose: model.CodeVerifyEmail, CodeHash: []byte("h"), ExpiresAt: time.Now().Add(-time.Second)}))
	require.ErrorIs(t, r.Consume(ctx, model.CodeVerifyEmail, "b", []byte("h"), nop), errs.ErrInvalidCode)
}
