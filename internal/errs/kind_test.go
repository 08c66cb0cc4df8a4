package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	t.Parallel()

	e := &Error{Kind: KindHTTP, Op: "GET /auth/me", Status: 500, Message: "boom", Err: io.EOF}
	require.Equal(t, "GET /auth/me: http (status 500): boom: EOF", e.Error())
	require.ErrorIs(t, e, io.EOF)
}

func TestError_IsMapsSentinels(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("call: %w", E(KindUnauthorized, "op", nil))
	require.ErrorIs(t, wrapped, ErrUnauthorized)
	require.NotErrorIs(t, wrapped, ErrNotFound)

	require.ErrorIs(t, E(KindConflict, "", nil), ErrAlreadyExists)
	require.ErrorIs(t, E(KindRateLimited, "", nil), ErrRateLimited)
	require.ErrorIs(t, E(KindValidation, "", nil), ErrValidation)
}

func TestKindOf_StatusOf(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", &Error{Kind: KindHTTP, Status: 404})
	require.Equal(t, KindHTTP, KindOf(err))
	require.Equal(t, 404, StatusOf(err))

	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, 0, StatusOf(nil))
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	for k, want := range map[Kind]string{
		KindVault:       "vault",
		KindNetwork:     "network",
		KindDecode:      "decode",
		KindNotFound:    "not_found",
		KindRateLimited: "rate_limited",
		Kind(99):        "unknown",
	} {
		require.Equal(t, want, k.String())
	}
}
