// Package backend is the client for the hosted auth/data platform: the auth
// session store, the profiles table over REST, and server-side functions.
//
// The Client owns the Session exclusively. Everything else in the app reads it
// through Session() or through the ordered lifecycle event stream returned by
// Subscribe().
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/auth"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/repository"
)

const (
	// SessionKey is the fixed cache key the serialized session lives under.
	SessionKey = "crewcall.auth.session"
	// VerifierKey holds the PKCE verifier between the redirect and the exchange.
	VerifierKey = "crewcall.auth.code-verifier"

	// DefaultRefreshMargin is how long before expiry Session() refreshes.
	DefaultRefreshMargin = 60 * time.Second

	defaultTimeout = 15 * time.Second
)

// Sealer protects the cached session blob at rest. A nil Sealer stores it as
// plain JSON.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(blob []byte) ([]byte, error)
}

// Config describes the backend project.
type Config struct {
	URL           string
	AnonKey       string
	RedirectURL   string
	RefreshMargin time.Duration
	HTTPClient    *http.Client
}

// Client talks to the backend platform.
type Client struct {
	baseURL  string
	anonKey  string
	redirect string
	http     *http.Client
	provider *auth.Provider
	tokens   *auth.TokenInspector
	store    repository.KeyValueStore
	sealer   Sealer
	events   *hub
	logger   *slog.Logger
	margin   time.Duration
	now      func() time.Time

	// mu serializes every session mutation, including the network round trip
	// that produces it, so two refreshes never race.
	mu       sync.Mutex
	session  *model.Session
	restored bool
}

// New creates a Client. store must not be nil; use NewMemoryStore for a
// client whose cache should not survive the process.
func New(cfg Config, tokens *auth.TokenInspector, store repository.KeyValueStore, sealer Sealer, logger *slog.Logger) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	hc = withAPIKey(hc, cfg.AnonKey)

	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}

	base := strings.TrimRight(cfg.URL, "/")
	return &Client{
		baseURL:  base,
		anonKey:  cfg.AnonKey,
		redirect: cfg.RedirectURL,
		http:     hc,
		provider: auth.NewProvider(base, cfg.AnonKey, cfg.RedirectURL, hc),
		tokens:   tokens,
		store:    store,
		sealer:   sealer,
		events:   newHub(),
		logger:   logger,
		margin:   margin,
		now:      time.Now,
	}
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// AnonKey returns the public project key.
func (c *Client) AnonKey() string { return c.anonKey }

// Subscribe returns the ordered lifecycle event stream and its unsubscribe
// handle. Events are delivered in emission order; emission never waits for
// the consumer. Unsubscribe is safe to call more than once and closes the
// channel.
func (c *Client) Subscribe() (<-chan model.AuthEvent, func()) {
	return c.events.subscribe()
}

// Close ends every subscription.
func (c *Client) Close() {
	c.events.close()
}

func (c *Client) emit(t model.AuthEventType, s *model.Session) {
	c.logger.Debug("auth event", slog.String("event", string(t)))
	c.events.publish(model.AuthEvent{Type: t, Session: cloneSession(s)})
}

// =========================================================================
// HTTP plumbing
// =========================================================================

// apiKeyTransport adds the project's public key to every request. The
// platform's gateway rejects requests without it.
type apiKeyTransport struct {
	base http.RoundTripper
	key  string
}

func (t *apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("apikey", t.key)
	return t.base.RoundTrip(r)
}

func withAPIKey(hc *http.Client, key string) *http.Client {
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	out := *hc
	out.Transport = &apiKeyTransport{base: base, key: key}
	return &out
}

// request describes one JSON call against the platform.
type request struct {
	method string
	path   string
	query  url.Values
	bearer string
	prefer string
	body   any
}

// StatusError is a non-2xx platform response.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// errorBody covers the error shapes of the auth, REST and functions gateways.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.ErrorDescription, b.Msg, b.Message, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("backend: encoding %s body: %w", req.path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("backend: building %s request: %w", req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	bearer := req.bearer
	if bearer == "" {
		bearer = c.anonKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		se := &StatusError{Method: req.method, Path: req.path, Status: resp.StatusCode, Message: eb.text()}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return &apperror.AppError{Err: apperror.ErrUnauthorized, Message: se.Message, Cause: se}
		case http.StatusForbidden:
			return &apperror.AppError{Err: apperror.ErrForbidden, Message: se.Message, Cause: se}
		}
		return se
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("backend: decoding %s response: %w", req.path, err)
	}
	return nil
}

// AccessToken returns the current access token, refreshing it if needed.
// It returns an Unauthorized error when nobody is signed in.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.bearer(ctx)
}

// bearer returns the current access token, refreshing it if needed.
func (c *Client) bearer(ctx context.Context) (string, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", apperror.Unauthorized("not signed in")
	}
	return s.AccessToken, nil
}
