package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Provider wraps golang.org/x/oauth2 for the backend's token endpoint.
//
// PKCE (Proof Key for Code Exchange):
//  1. Before sending the user away (OAuth sign-in, password-recovery mail) the
//     client generates a random "code verifier" and keeps it locally.
//  2. Only the S256 hash of it, the "code challenge", travels in the URL.
//  3. The backend redirects back with a short-lived ?code=.
//  4. The client exchanges code + verifier for a session. Somebody who only
//     intercepted the redirect has the code but not the verifier.
//
// WHY NO CLIENT SECRET?
// A thin client cannot keep a secret; the verifier replaces it. The public
// anon key identifies the project and travels in the apikey header instead.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewProvider creates a Provider for the backend at baseURL.
//
// Endpoints (relative to baseURL):
//   - /auth/v1/authorize — where OAuth sign-in starts
//   - /auth/v1/token     — code, refresh-token and password grants
func NewProvider(baseURL, anonKey, redirectURL string, httpClient *http.Client) *Provider {
	base := strings.TrimRight(baseURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provider{
		config: &oauth2.Config{
			ClientID:    anonKey,
			RedirectURL: redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/auth/v1/authorize",
				TokenURL: base + "/auth/v1/token",
				// Public client: client_id goes in the form body, never in Basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// GenerateVerifier returns a fresh random PKCE code verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// Challenge returns the S256 code challenge for verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// AuthCodeURL returns the URL that starts OAuth sign-in with the external
// identity provider (e.g. "google"). redirectTo overrides the configured
// redirect URL when non-empty.
func (p *Provider) AuthCodeURL(provider, redirectTo, verifier string) string {
	if redirectTo == "" {
		redirectTo = p.config.RedirectURL
	}
	return p.config.AuthCodeURL("",
		oauth2.SetAuthURLParam("provider", provider),
		oauth2.SetAuthURLParam("redirect_to", redirectTo),
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange trades an authorization code plus the locally kept verifier for
// tokens.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	tok, err := p.config.Exchange(p.withClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging code: %w", err)
	}
	return tok, nil
}

// Refresh obtains a new access token for refreshToken.
//
// A token with no access token is never Valid(), so the TokenSource goes
// straight to the refresh_token grant. When the response omits a new refresh
// token, oauth2 carries the old one over.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := p.config.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refreshing token: %w", err)
	}
	return tok, nil
}

// Password signs in with email and password (the resource-owner grant).
func (p *Provider) Password(ctx context.Context, email, password string) (*oauth2.Token, error) {
	tok, err := p.config.PasswordCredentialsToken(p.withClient(ctx), email, password)
	if err != nil {
		return nil, fmt.Errorf("auth: password sign-in: %w", err)
	}
	return tok, nil
}

// withClient tells oauth2 which *http.Client to use for token requests.
// oauth2 looks the client up in the context rather than taking a parameter.
func (p *Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
