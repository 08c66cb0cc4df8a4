package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/and161185/sessionkit/internal/model"
	"github.com/and161185/sessionkit/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// spyVault wraps vault.Memory and records calls; failures can be injected per op and key.
type spyVault struct {
	*vault.Memory

	mu     sync.Mutex
	calls  []string
	setErr map[string]error
	getErr error
	delErr error
}

func newSpyVault() *spyVault {
	return &spyVault{Memory: vault.NewMemory(), setErr: map[string]error{}}
}

func (v *spyVault) record(c string) {
	v.mu.Lock()
	v.calls = append(v.calls, c)
	v.mu.Unlock()
}

func (v *spyVault) Set(ctx context.Context, key, value string) error {
	v.record("set:" + key)
	if err := v.setErr[key]; err != nil {
		return err
	}
	return v.Memory.Set(ctx, key, value)
}

func (v *spyVault) Get(ctx context.Context, key string) (string, bool, error) {
	v.record("get:" + key)
	if v.getErr != nil {
		return "", false, v.getErr
	}
	return v.Memory.Get(ctx, key)
}

func (v *spyVault) Delete(ctx context.Context, key string) error {
	v.record("delete:" + key)
	if v.delErr != nil {
		return v.delErr
	}
	return v.Memory.Delete(ctx, key)
}

var (
	alice  = model.User{ID: "u-1", Email: "alice@example.com", Name: "Alice"}
	tokens = model.AuthTokens{AccessToken: "access-1", RefreshToken: "refresh-1"}
)

func newStore(t *testing.T) (*Store, *spyVault) {
	t.Helper()
	v := newSpyVault()
	return NewStore(v, zaptest.NewLogger(t)), v
}

func TestNewStore_InitialState(t *testing.T) {
	s, _ := newStore(t)
	st := s.State()
	assert.Nil(t, st.User)
	assert.False(t, st.IsLoggedIn)
	assert.True(t, st.IsLoading)
	assert.Equal(t, StatusUninitialized, st.Status)
}

func TestSetAuth_ThenGetTokens(t *testing.T) {
	ctx := context.Background()
	s, v := newStore(t)

	require.NoError(t, s.SetAuth(ctx, alice, tokens))

	got, err := s.GetTokens(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tokens, *got)

	st := s.State()
	assert.True(t, st.IsLoggedIn)
	assert.False(t, st.IsLoading)
	assert.Equal(t, StatusAuthenticated, st.Status)
	require.NotNil(t, st.User)
	assert.Equal(t, alice, *st.User)

	assert.Equal(t, []string{"set:auth_token", "set:refresh_token"}, v.calls[:2])
}

func TestSetAuth_VaultFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s, v := newStore(t)
	s.Initialize(ctx)
	before := s.State()

	boom := errors.New("keychain locked")
	v.setErr[vault.KeyRefreshToken] = boom

	err := s.SetAuth(ctx, alice, tokens)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, s.State())

	// the access token was written before the failure: a partial pair reads as no session
	got, err := s.GetTokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClearAuth_AfterLogin(t *testing.T) {
	ctx := context.Background()
	s, v := newStore(t)
	require.NoError(t, s.SetAuth(ctx, alice, tokens))

	require.NoError(t, s.ClearAuth(ctx))

	got, err := s.GetTokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, State{Status: StatusUnauthenticated}, s.State())
	assert.False(t, v.Has(vault.KeyAccessToken))
	assert.False(t, v.Has(vault.KeyRefreshToken))
}

func TestClearAuth_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.SetAuth(ctx, alice, tokens))

	require.NoError(t, s.ClearAuth(ctx))
	once := s.State()
	require.NoError(t, s.ClearAuth(ctx))
	assert.Equal(t, once, s.State())

	fresh, _ := newStore(t)
	require.NoError(t, fresh.ClearAuth(ctx), "clearing with nothing stored must not fail")
	assert.False(t, fresh.State().IsLoggedIn)
}

func TestClearAuth_VaultErrorPropagates(t *testing.T) {
	ctx := context.Background()
	s, v := newStore(t)
	require.NoError(t, s.SetAuth(ctx, alice, tokens))

	v.delErr = errors.New("io")
	require.Error(t, s.ClearAuth(ctx))
	assert.True(t, s.State().IsLoggedIn)
}

func TestSetUser(t *testing.T) {
	s, v := newStore(t)

	s.SetUser(&alice)
	st := s.State()
	assert.True(t, st.IsLoggedIn)
	assert.Equal(t, StatusAuthenticated, st.Status)
	assert.Equal(t, "Alice", st.User.Name)
	assert.True(t, st.IsLoading, "SetUser does not touch the loading flag")

	s.SetUser(nil)
	st = s.State()
	assert.False(t, st.IsLoggedIn)
	assert.Nil(t, st.User)
	assert.Equal(t, StatusUnauthenticated, st.Status)

	assert.Empty(t, v.calls, "SetUser never touches the vault")
}

func TestState_ReturnsCopy(t *testing.T) {
	s, _ := newStore(t)
	s.SetUser(&alice)
	st := s.State()
	st.User.Name = "mutated"
	assert.Equal(t, "Alice", s.State().User.Name)
}

func TestInitialize_NoTokens(t *testing.T) {
	s, _ := newStore(t)
	s.Initialize(context.Background())
	assert.Equal(t, State{Status: StatusUnauthenticated}, s.State())
}

func TestInitialize_WithTokens_PendingProfile(t *testing.T) {
	ctx := context.Background()
	s, v := newStore(t)
	require.NoError(t, v.Memory.Set(ctx, vault.KeyAccessToken, "a"))
	require.NoError(t, v.Memory.Set(ctx, vault.KeyRefreshToken, "r"))

	s.Initialize(ctx)
	st := s.State()
	assert.True(t, st.IsLoggedIn)
	assert.False(t, st.IsLoading)
	assert.Nil(t, st.User)
	assert.Equal(t, StatusPendingProfile, st.Status)

	s.SetUser(&alice)
	assert.Equal(t, StatusAuthenticated, s.State().Status)
}

func TestInitialize_VaultErrorMeansLoggedOut(t *testing.T) {
	s, v := newStore(t)
	v.getErr = errors.New("corrupt")

	require.NotPanics(t, func() { s.Initialize(context.Background()) })
	assert.Equal(t, State{Status: StatusUnauthenticated}, s.State())
}

func TestGetTokens_PartialPresenceIsAbsence(t *testing.T) {
	ctx := context.Background()

	onlyAccess, v1 := newStore(t)
	require.NoError(t, v1.Memory.Set(ctx, vault.KeyAccessToken, "a"))
	got, err := onlyAccess.GetTokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	onlyRefresh, v2 := newStore(t)
	require.NoError(t, v2.Memory.Set(ctx, vault.KeyRefreshToken, "r"))
	got, err = onlyRefresh.GetTokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	onlyRefresh.Initialize(ctx)
	assert.False(t, onlyRefresh.State().IsLoggedIn)
}

func TestGetTokens_VaultErrorPropagates(t *testing.T) {
	s, v := newStore(t)
	v.getErr = errors.New("io")
	_, err := s.GetTokens(context.Background())
	require.Error(t, err)

	tok, err := s.AccessToken(context.Background())
	require.Error(t, err)
	assert.Empty(t, tok)
}

func TestAccessToken(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	tok, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, s.SetAuth(ctx, alice, tokens))
	tok, err = s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
}

func TestSetLoading(t *testing.T) {
	s, _ := newStore(t)
	s.Initialize(context.Background())
	s.SetLoading(true)
	assert.True(t, s.State().IsLoading)
	assert.Equal(t, StatusUnauthenticated, s.State().Status)
}

func TestSubscribe_ReceivesCurrentAndLatest(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	ch, cancel := s.Subscribe()
	first := <-ch
	assert.Equal(t, StatusUninitialized, first.Status)

	require.NoError(t, s.SetAuth(ctx, alice, tokens))
	require.NoError(t, s.ClearAuth(ctx))

	select {
	case st := <-ch:
		assert.Equal(t, StatusUnauthenticated, st.Status, "lagging subscriber sees the latest state")
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, s.SetAuth(ctx, alice, tokens), "notify after cancel must not panic")
}

func TestConcurrentActions_EndInConsistentState(t *testing.T) {
	ctx := context.Background()
	s, v := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = s.SetAuth(ctx, alice, tokens) }()
		go func() { defer wg.Done(); _ = s.ClearAuth(ctx) }()
	}
	wg.Wait()

	st := s.State()
	stored, err := s.GetTokens(ctx)
	require.NoError(t, err)
	if st.IsLoggedIn {
		require.NotNil(t, stored)
	} else {
		require.Nil(t, stored)
		assert.False(t, v.Has(vault.KeyAccessToken))
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pending_profile", StatusPendingProfile.String())
	assert.Equal(t, "restoring", StatusRestoring.String())
	assert.Equal(t, "unknown", Status(42).String())
}
