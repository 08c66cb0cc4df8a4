package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/model"
	"github.com/and161185/sessionkit/internal/session"
	"github.com/and161185/sessionkit/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"
)

// echoAuth answers with the Authorization header it received.
func echoAuth(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"auth": r.Header.Get("Authorization")})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRequest_CarriesBearerFromGetter(t *testing.T) {
	srv := echoAuth(t)
	c, err := New(srv.URL, StaticToken("abc"), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, c.Get(context.Background(), "/echo", &out))
	assert.Equal(t, "Bearer abc", out["auth"])
}

func TestRequest_NoGetterOrEmptyTokenIsUnauthenticated(t *testing.T) {
	srv := echoAuth(t)

	for name, getter := range map[string]TokenGetter{
		"nil getter":  nil,
		"empty token": StaticToken(""),
	} {
		t.Run(name, func(t *testing.T) {
			c, err := New(srv.URL, getter)
			require.NoError(t, err)
			var out map[string]string
			require.NoError(t, c.Get(context.Background(), "echo", &out))
			assert.Empty(t, out["auth"])
		})
	}
}

func TestRequest_GetterErrorAbortsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	boom := errors.New("vault unreadable")
	c, err := New(srv.URL, func(context.Context) (string, error) { return "", boom })
	require.NoError(t, err)

	err = c.Get(context.Background(), "/x", nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, errs.KindVault, errs.KindOf(err))
	assert.Zero(t, hits.Load())
}

func TestUnauthorized_PurgesCredentialsAndReturnsTypedError(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token expired"}`))
	}))
	defer srv.Close()

	v := vault.NewMemory()
	store := session.NewStore(v, zaptest.NewLogger(t))
	require.NoError(t, store.SetAuth(ctx, model.User{ID: "1"}, model.AuthTokens{AccessToken: "a", RefreshToken: "r"}))

	c, err := New(srv.URL, store.AccessToken, WithInvalidator(store.ClearAuth), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	err = c.Get(ctx, "/auth/me", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, errs.StatusOf(err))

	var typed *errs.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "token expired", typed.Message)

	assert.False(t, v.Has(vault.KeyAccessToken))
	assert.False(t, v.Has(vault.KeyRefreshToken))
	assert.False(t, store.State().IsLoggedIn, "memory state follows the vault")
}

func TestUnauthorized_InvalidatorErrorDoesNotMask401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var calls int
	c, err := New(srv.URL, StaticToken("x"), WithInvalidator(func(context.Context) error {
		calls++
		return errors.New("vault gone")
	}))
	require.NoError(t, err)

	err = c.Post(context.Background(), "/p", map[string]string{"a": "b"}, nil)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
	assert.Equal(t, 1, calls, "no retry after 401")
}

func TestNon2xx_MapsToKinds(t *testing.T) {
	cases := map[int]errs.Kind{
		http.StatusBadRequest:          errs.KindValidation,
		http.StatusNotFound:            errs.KindNotFound,
		http.StatusConflict:            errs.KindConflict,
		http.StatusTooManyRequests:     errs.KindRateLimited,
		http.StatusInternalServerError: errs.KindHTTP,
	}
	for code, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("not json"))
		}))
		c, err := New(srv.URL, nil, WithInvalidator(func(context.Context) error {
			t.Errorf("invalidator must only run on 401")
			return nil
		}))
		require.NoError(t, err)
		err = c.Delete(context.Background(), "/x", nil)
		assert.Equal(t, want, errs.KindOf(err), "status %d", code)
		assert.Equal(t, code, errs.StatusOf(err))
		srv.Close()
	}
}

func TestDo_EncodesBodyAndDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/users/me", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(model.User{ID: "1", Name: in["name"]})
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", nil)
	require.NoError(t, err)

	var u model.User
	require.NoError(t, c.Put(context.Background(), "/users/me", map[string]string{"name": "Bob"}, &u))
	assert.Equal(t, "Bob", u.Name)
}

func TestDo_DecodeAndNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{broken"))
	}))
	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	var out map[string]any
	assert.Equal(t, errs.KindDecode, errs.KindOf(c.Get(context.Background(), "/", &out)))
	srv.Close()

	assert.Equal(t, errs.KindNetwork, errs.KindOf(c.Get(context.Background(), "/", &out)))

	assert.Equal(t, errs.KindValidation, errs.KindOf(c.Post(context.Background(), "/", make(chan int), nil)))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, errs.KindNetwork, errs.KindOf(c.Get(context.Background(), "/slow", nil)))
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New("ftp://example.com", nil)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	_, err = New("://", nil)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestFromTokenSource(t *testing.T) {
	g := FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "idp-token"}))
	tok, err := g(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "idp-token", tok)

	srv := echoAuth(t)
	c, err := New(srv.URL, g)
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, c.Get(context.Background(), "/", &out))
	assert.Equal(t, "Bearer idp-token", out["auth"])
}

func TestTransport_StandaloneLeavesRequestUntouched(t *testing.T) {
	srv := echoAuth(t)
	tr := &Transport{Getter: StaticToken("t1")}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Empty(t, req.Header.Get("Authorization"), "caller's request must not be mutated")
}

type trackingBody struct {
	*strings.Reader
	closed bool
}

func (b *trackingBody) Close() error { b.closed = true; return nil }

func TestTransport_GetterErrorClosesBody(t *testing.T) {
	tr := &Transport{Getter: func(context.Context) (string, error) { return "", errors.New("vault locked") }}
	body := &trackingBody{Reader: strings.NewReader(`{"email":"a@b.c"}`)}
	req, err := http.NewRequest(http.MethodPost, "http://127.0.0.1:1/auth/login", body)
	require.NoError(t, err)

	_, err = tr.RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, errs.KindVault, errs.KindOf(err))
	assert.True(t, body.closed, "request body must be closed on error")
}
