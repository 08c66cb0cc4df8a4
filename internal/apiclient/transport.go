package apiclient

import (
	"context"
	"net/http"

	"github.com/and161185/sessionkit/internal/errs"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// TokenGetter returns the current bearer credential. An empty string means
// "no credential": the request goes out unauthenticated.
type TokenGetter func(ctx context.Context) (string, error)

// Invalidator is called once per 401 response. Wire it to the session
// store's ClearAuth so there is a single invalidation path.
type Invalidator func(ctx context.Context) error

// FromTokenSource adapts an oauth2.TokenSource, letting an identity provider
// SDK own token refreshing.
func FromTokenSource(ts oauth2.TokenSource) TokenGetter {
	return func(context.Context) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		if tok == nil {
			return "", nil
		}
		return tok.AccessToken, nil
	}
}

// StaticToken always returns tok.
func StaticToken(tok string) TokenGetter {
	return func(context.Context) (string, error) { return tok, nil }
}

// Transport attaches "Authorization: Bearer <token>" to outgoing requests and
// runs the invalidator when the server answers 401. It never retries.
type Transport struct {
	Base       http.RoundTripper
	Getter     TokenGetter
	Invalidate Invalidator
	Log        *zap.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out := req
	if t.Getter != nil {
		tok, err := t.Getter(ctx)
		if err != nil {
			if req.Body != nil {
				_ = req.Body.Close()
			}
			return nil, errs.E(errs.KindVault, "read credential", err)
		}
		if tok != "" {
			out = req.Clone(ctx)
			out.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.Invalidate != nil {
		if ierr := t.Invalidate(ctx); ierr != nil {
			t.logger().Error("credential invalidation failed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Error(ierr),
			)
		} else {
			t.logger().Info("credentials invalidated after 401", zap.String("path", req.URL.Path))
		}
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *zap.Logger {
	if t.Log != nil {
		return t.Log
	}
	return zap.NewNop()
}
