package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/auth"
	"github.com/sakif/crewcall/internal/authurl"
	"github.com/sakif/crewcall/internal/model"
)

// Flows a pending PKCE verifier can belong to. A recovery verifier turns the
// later code exchange into a PASSWORD_RECOVERY event.
const (
	flowOAuth    = "oauth"
	flowRecovery = "recovery"
	flowSignUp   = "signup"
)

type pendingVerifier struct {
	Verifier string `json:"verifier"`
	Flow     string `json:"flow"`
}

// UserAttributes is the body of an account update.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Session returns the current session, or nil when signed out.
//
// The first call restores the cached session and emits INITIAL_SESSION.
// A session about to expire is refreshed transparently (TOKEN_REFRESHED).
// A refresh token the backend rejects signs the user out (SIGNED_OUT).
// An error is returned only when the backend could not be reached and the
// access token is already unusable.
func (c *Client) Session(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.restoreLocked(ctx)
	if c.session == nil {
		return nil, nil
	}

	now := c.now()
	if !c.session.ExpiresWithin(now, c.margin) {
		return cloneSession(c.session), nil
	}

	refreshed, err := c.refreshLocked(ctx, c.session.RefreshToken)
	if err != nil {
		if rejected(err) {
			c.logger.Info("refresh token rejected, signing out", slog.String("error", err.Error()))
			c.clearLocked(ctx)
			c.emit(model.EventSignedOut, nil)
			return nil, nil
		}
		if !c.session.Expired(now) {
			c.logger.Warn("session refresh failed, using current token", slog.String("error", err.Error()))
			return cloneSession(c.session), nil
		}
		return nil, fmt.Errorf("backend: refreshing session: %w", err)
	}

	c.setLocked(ctx, refreshed)
	c.emit(model.EventTokenRefreshed, refreshed)
	return cloneSession(refreshed), nil
}

// ExchangeCodeForSession completes a PKCE redirect: it reads ?code= from
// rawURL and trades it, with the stored verifier, for a session.
func (c *Client) ExchangeCodeForSession(ctx context.Context, rawURL string) (*model.Session, error) {
	res := authurl.Parse(rawURL)
	if res.Code == "" {
		return nil, apperror.AuthExchange("no authorization code in url", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)

	pending, err := c.loadVerifierLocked(ctx)
	if err != nil {
		return nil, apperror.AuthExchange("code verifier not found", err)
	}

	tok, err := c.provider.Exchange(ctx, res.Code, pending.Verifier)
	if err != nil {
		return nil, apperror.AuthExchange("exchanging code for session", err)
	}
	sess, err := c.sessionFromToken(tok)
	if err != nil {
		return nil, apperror.AuthExchange("reading issued session", err)
	}

	c.deleteVerifierLocked(ctx)
	c.setLocked(ctx, sess)
	c.emit(model.EventSignedIn, sess)
	if pending.Flow == flowRecovery {
		c.emit(model.EventPasswordRecovery, sess)
	}
	return cloneSession(sess), nil
}

// SetSession restores a session from an explicit token pair. An expired access
// token is refreshed with the refresh token first.
func (c *Client) SetSession(ctx context.Context, tokens model.Tokens) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)

	sess, err := c.sessionFromTokensLocked(ctx, tokens)
	if err != nil {
		return nil, err
	}

	c.setLocked(ctx, sess)
	c.emit(model.EventSignedIn, sess)
	return cloneSession(sess), nil
}

// DetectSessionInURL consumes legacy fragment tokens on its own, the way the
// web platform library does on page load. It reports whether a session was
// set. A recovery link additionally emits PASSWORD_RECOVERY.
//
// Error descriptions are left to the caller, which reports them to the user.
func (c *Client) DetectSessionInURL(ctx context.Context, rawURL string) (bool, error) {
	res := authurl.Parse(rawURL)
	if res.AccessToken == "" || res.RefreshToken == "" || res.ErrorDescription != "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)

	sess, err := c.sessionFromTokensLocked(ctx, model.Tokens{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
	if err != nil {
		return false, err
	}

	c.setLocked(ctx, sess)
	c.emit(model.EventSignedIn, sess)
	if res.Type == "recovery" {
		c.emit(model.EventPasswordRecovery, sess)
	}
	return true, nil
}

// SignInWithPassword signs in with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)

	tok, err := c.provider.Password(ctx, email, password)
	if err != nil {
		if rejected(err) {
			return nil, &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "invalid login credentials", Cause: err}
		}
		return nil, apperror.AuthSession("signing in", err)
	}
	sess, err := c.sessionFromToken(tok)
	if err != nil {
		return nil, apperror.AuthSession("reading issued session", err)
	}

	c.setLocked(ctx, sess)
	c.emit(model.EventSignedIn, sess)
	return cloneSession(sess), nil
}

// SignUp creates an account. When the project confirms emails, no session is
// returned until the confirmation link is followed.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error) {
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)

	verifier, err := c.saveVerifierLocked(ctx, flowSignUp)
	if err != nil {
		return nil, err
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		query:  c.redirectQuery(redirectTo),
		body: map[string]string{
			"email":                 email,
			"password":              password,
			"code_challenge":        auth.Challenge(verifier),
			"code_challenge_method": "s256",
		},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("backend: signing up: %w", err)
	}
	if out.AccessToken == "" {
		return nil, nil
	}

	sess, err := c.sessionFromTokensLocked(ctx, model.Tokens{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken})
	if err != nil {
		return nil, err
	}
	c.deleteVerifierLocked(ctx)
	c.setLocked(ctx, sess)
	c.emit(model.EventSignedIn, sess)
	return cloneSession(sess), nil
}

// AuthorizeURL starts OAuth sign-in with an external identity provider. A
// fresh PKCE verifier is stored for the exchange that follows the redirect.
func (c *Client) AuthorizeURL(ctx context.Context, provider, redirectTo string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	verifier, err := c.saveVerifierLocked(ctx, flowOAuth)
	if err != nil {
		return "", err
	}
	return c.provider.AuthCodeURL(provider, redirectTo, verifier), nil
}

// ResetPasswordForEmail sends the password-recovery mail. The link in it comes
// back as a PKCE code redirect to redirectTo.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	verifier, err := c.saveVerifierLocked(ctx, flowRecovery)
	if err != nil {
		return err
	}

	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/recover",
		query:  c.redirectQuery(redirectTo),
		body: map[string]string{
			"email":                 email,
			"code_challenge":        auth.Challenge(verifier),
			"code_challenge_method": "s256",
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: requesting password recovery: %w", err)
	}
	return nil
}

// UpdateUser changes the signed-in account (typically the password after a
// recovery link) and emits USER_UPDATED.
func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) (*model.Session, error) {
	if attrs.Password != "" {
		if err := auth.ValidatePassword(attrs.Password); err != nil {
			return nil, err
		}
	}

	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	err = c.do(ctx, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		bearer: token,
		body:   attrs,
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("backend: updating user: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		// Signed out while the request was in flight.
		return nil, apperror.Unauthorized("not signed in")
	}
	if user.Email != "" {
		c.session.Email = user.Email
		c.persistLocked(ctx)
	}
	c.emit(model.EventUserUpdated, c.session)
	return cloneSession(c.session), nil
}

// SignOut revokes the session on the backend (best effort), clears the cache
// and emits SIGNED_OUT.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)

	if c.session != nil {
		err := c.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			bearer: c.session.AccessToken,
		}, nil)
		if err != nil {
			c.logger.Warn("server-side sign-out failed", slog.String("error", err.Error()))
		}
	}

	c.clearLocked(ctx)
	c.emit(model.EventSignedOut, nil)
	return nil
}

// =========================================================================
// internals (all *Locked helpers expect c.mu held)
// =========================================================================

func (c *Client) redirectQuery(redirectTo string) url.Values {
	if redirectTo == "" {
		redirectTo = c.redirect
	}
	if redirectTo == "" {
		return nil
	}
	return url.Values{"redirect_to": {redirectTo}}
}

func (c *Client) sessionFromTokensLocked(ctx context.Context, tokens model.Tokens) (*model.Session, error) {
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, apperror.AuthSession("access and refresh token are both required", nil)
	}

	claims, err := c.tokens.Parse(tokens.AccessToken)
	if err != nil {
		return nil, apperror.AuthSession("reading access token", err)
	}

	sess := &model.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    claims.ExpiresAt,
		UserID:       claims.UserID,
		Email:        claims.Email,
	}
	if sess.Expired(c.now()) {
		sess, err = c.refreshLocked(ctx, tokens.RefreshToken)
		if err != nil {
			return nil, apperror.AuthSession("refreshing expired session", err)
		}
	}
	return sess, nil
}

func (c *Client) refreshLocked(ctx context.Context, refreshToken string) (*model.Session, error) {
	tok, err := c.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return c.sessionFromToken(tok)
}

func (c *Client) sessionFromToken(tok *oauth2.Token) (*model.Session, error) {
	claims, err := c.tokens.Parse(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = claims.ExpiresAt
	}
	return &model.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
		UserID:       claims.UserID,
		Email:        claims.Email,
	}, nil
}

// rejected reports whether the token endpoint answered with a client error,
// meaning the grant itself is bad and retrying will not help.
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
	}
	return false
}

// restoreLocked loads the cached session once per Client. A cache that cannot
// be read is discarded; the user simply signs in again.
func (c *Client) restoreLocked(ctx context.Context) {
	if c.restored {
		return
	}
	c.restored = true

	blob, err := c.store.GetValue(ctx, SessionKey)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			c.logger.Warn("reading cached session failed", slog.String("error", err.Error()))
		}
		c.emit(model.EventInitialSession, nil)
		return
	}

	sess, err := c.decodeSession(blob)
	if err != nil {
		c.logger.Warn("discarding unreadable cached session", slog.String("error", err.Error()))
		_ = c.store.DeleteValue(ctx, SessionKey)
		c.emit(model.EventInitialSession, nil)
		return
	}

	c.session = sess
	c.emit(model.EventInitialSession, sess)
}

func (c *Client) setLocked(ctx context.Context, s *model.Session) {
	c.session = s
	c.persistLocked(ctx)
}

// persistLocked mirrors the in-memory session to the cache. A failed write is
// logged, never returned: the in-memory session stays authoritative.
func (c *Client) persistLocked(ctx context.Context) {
	blob, err := c.encodeSession(c.session)
	if err == nil {
		err = c.store.PutValue(ctx, SessionKey, blob)
	}
	if err != nil {
		c.logger.Warn("caching session failed", slog.String("error", err.Error()))
	}
}

func (c *Client) clearLocked(ctx context.Context) {
	c.session = nil
	if err := c.store.DeleteValue(ctx, SessionKey); err != nil {
		c.logger.Warn("clearing cached session failed", slog.String("error", err.Error()))
	}
}

func (c *Client) encodeSession(s *model.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("backend: encoding session: %w", err)
	}
	if c.sealer == nil {
		return data, nil
	}
	return c.sealer.Seal(data)
}

func (c *Client) decodeSession(blob []byte) (*model.Session, error) {
	if c.sealer != nil {
		var err error
		if blob, err = c.sealer.Open(blob); err != nil {
			return nil, err
		}
	}
	var s model.Session
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("backend: decoding session: %w", err)
	}
	if s.AccessToken == "" || s.RefreshToken == "" {
		return nil, errors.New("backend: cached session is incomplete")
	}
	return &s, nil
}

func (c *Client) saveVerifierLocked(ctx context.Context, flow string) (string, error) {
	v := pendingVerifier{Verifier: auth.GenerateVerifier(), Flow: flow}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("backend: encoding verifier: %w", err)
	}
	if err := c.store.PutValue(ctx, VerifierKey, data); err != nil {
		return "", fmt.Errorf("backend: storing verifier: %w", err)
	}
	return v.Verifier, nil
}

func (c *Client) loadVerifierLocked(ctx context.Context) (pendingVerifier, error) {
	data, err := c.store.GetValue(ctx, VerifierKey)
	if err != nil {
		return pendingVerifier{}, err
	}
	var v pendingVerifier
	if err := json.Unmarshal(data, &v); err != nil {
		return pendingVerifier{}, fmt.Errorf("backend: decoding verifier: %w", err)
	}
	if v.Verifier == "" {
		return pendingVerifier{}, errors.New("backend: empty verifier")
	}
	return v, nil
}

func (c *Client) deleteVerifierLocked(ctx context.Context) {
	if err := c.store.DeleteValue(ctx, VerifierKey); err != nil {
		c.logger.Warn("clearing code verifier failed", slog.String("error", err.Error()))
	}
}

func cloneSession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
