package httpapi_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/and161185/sessionkit/internal/apiclient"
	"github.com/and161185/sessionkit/internal/authclient"
	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/limiter"
	"github.com/and161185/sessionkit/internal/repository/memory"
	"github.com/and161185/sessionkit/internal/server/httpapi"
	"github.com/and161185/sessionkit/internal/service"
	"github.com/and161185/sessionkit/internal/session"
	"github.com/and161185/sessionkit/internal/storage"
	"github.com/and161185/sessionkit/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// The client stack against the real router: login, restore in a new
// process, server-side revocation purging the local vault.
func TestClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	svc := service.NewAccountService(
		memory.NewAccounts(), memory.NewTokens(), memory.NewCodes(),
		limiter.NewMemory(time.Minute, 5, time.Minute),
		service.Config{SignKey: []byte("k"), AccessTTL: time.Minute, RefreshTTL: time.Hour, ResetTTL: time.Hour},
		log,
	)
	srv := httptest.NewServer(httpapi.NewRouter(svc, nil, log))
	defer srv.Close()

	backend := storage.NewMemory()
	newClient := func() (*authclient.Service, *session.Store) {
		v, err := vault.Open(ctx, backend, []byte("passphrase"))
		require.NoError(t, err)
		st := session.NewStore(v, log)
		c, err := apiclient.New(srv.URL, st.AccessToken, apiclient.WithInvalidator(st.ClearAuth), apiclient.WithLogger(log))
		require.NoError(t, err)
		return authclient.New(c, st, log), st
	}

	ac, st := newClient()
	_, err := ac.Register(ctx, "ann@example.com", "password1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, session.StatusAuthenticated, st.State().Status)

	// second process over the same encrypted backend
	ac2, st2 := newClient()
	state, err := ac2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAuthenticated, state.Status)
	assert.Equal(t, "Ann", st2.State().User.Name)

	_, err = ac2.Refresh(ctx)
	require.NoError(t, err)

	// both stores read the rotated pair from the shared vault
	t1, err := st.GetTokens(ctx)
	require.NoError(t, err)
	t2, err := st2.GetTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, t2, t1)

	require.NoError(t, ac2.Logout(ctx))
	assert.False(t, st2.State().IsLoggedIn)

	_, err = ac.Refresh(ctx)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}
