// Package apiclient is the authenticated HTTP client used for API calls. The
// credential source is injected at construction; 401 responses invalidate the
// session through an injected hook and surface as typed errors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/sessionkit/internal/errs"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a whole request when no timeout option is given.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 64 << 10

// Client sends JSON requests relative to a base URL.
type Client struct {
	base *url.URL
	http *http.Client
	log  *zap.Logger
}

type options struct {
	timeout    time.Duration
	transport  http.RoundTripper
	invalidate Invalidator
	log        *zap.Logger
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithTransport sets the underlying transport (default http.DefaultTransport).
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// WithInvalidator sets the hook run on 401 responses.
func WithInvalidator(fn Invalidator) Option { return func(o *options) { o.invalidate = fn } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// New builds a client for baseURL. getter may be nil, in which case every
// request is sent without credentials.
func New(baseURL string, getter TokenGetter, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errs.E(errs.KindValidation, "apiclient.New", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.E(errs.KindValidation, "apiclient.New", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	o := options{timeout: DefaultTimeout, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.Named("apiclient")

	return &Client{
		base: u,
		http: &http.Client{
			Timeout: o.timeout,
			Transport: &Transport{
				Base:       o.transport,
				Getter:     getter,
				Invalidate: o.invalidate,
				Log:        log,
			},
		},
		log: log,
	}, nil
}

// Get issues a GET and decodes the JSON response into out (may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with in encoded as JSON (nil for no body).
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Put issues a PUT with in encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends one request. Errors are *errs.Error: KindUnauthorized for 401,
// KindHTTP for other non-2xx statuses, KindNetwork for transport failures and
// KindDecode for unreadable bodies.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.E(errs.KindValidation, op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return errs.E(errs.KindValidation, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		var typed *errs.Error
		if errors.As(err, &typed) {
			return err
		}
		return errs.E(errs.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	c.log.Debug("api call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.E(errs.KindDecode, op, err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

type errorBody struct {
	Error string `json:"error"`
}

func responseError(op string, resp *http.Response) error {
	kind := errs.KindHTTP
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = errs.KindUnauthorized
	case http.StatusNotFound:
		kind = errs.KindNotFound
	case http.StatusConflict:
		kind = errs.KindConflict
	case http.StatusTooManyRequests:
		kind = errs.KindRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = errs.KindValidation
	}

	e := &errs.Error{Kind: kind, Op: op, Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		e.Message = eb.Error
	}
	return e
}

// BaseURL returns the base URL requests are resolved against.
func (c *Client) BaseURL() string { return c.base.String() }
