// Package authurl extracts authentication callback parameters from inbound URLs.
//
// The auth backend hands control back to the app in several shapes depending on
// flow and platform:
//
//	https://host/auth/confirm?code=8f1c...                      (PKCE)
//	https://host/reset-password#access_token=..&refresh_token=..&type=recovery
//	crewcall://callback?error_description=Email+link+is+invalid
//	https://host/reset-password?type=recovery&token_hash=abc
//
// Parse never fails: a URL that net/url rejects is split on '#' by hand and both
// halves are parsed leniently. The structural failure is kept on the Result so
// callers can log it.
package authurl

import (
	"net/url"
	"strings"

	"github.com/sakif/crewcall/internal/apperror"
)

// Kind is the variant of a callback payload.
type Kind string

const (
	KindNone         Kind = "none"
	KindPKCECode     Kind = "pkce_code"
	KindLegacyTokens Kind = "legacy_tokens"
	KindError        Kind = "error"
)

// Payload is the single callback variant chosen from a Result.
type Payload struct {
	Kind         Kind
	Code         string
	AccessToken  string
	RefreshToken string
	FlowType     string
	Description  string
}

// Result holds every recognised value found in a URL.
// Fragment values take precedence over query values for the same key.
type Result struct {
	Code             string
	AccessToken      string
	RefreshToken     string
	Type             string
	ErrorDescription string
	TokenHash        string

	// Path is the URL path. For custom-scheme deep links the host is part of
	// the path, so crewcall://reset-password yields "/reset-password".
	Path string

	// Err is set (to an apperror.ErrURLParse) when the URL could not be parsed
	// structurally and the lenient fallback was used.
	Err error
}

// Payload chooses exactly one variant. An error description wins, then a
// PKCE code, then a complete token pair.
func (r Result) Payload() Payload {
	switch {
	case r.ErrorDescription != "":
		return Payload{Kind: KindError, Description: r.ErrorDescription, FlowType: r.Type}
	case r.Code != "":
		return Payload{Kind: KindPKCECode, Code: r.Code, FlowType: r.Type}
	case r.AccessToken != "" && r.RefreshToken != "":
		return Payload{
			Kind:         KindLegacyTokens,
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
			FlowType:     r.Type,
		}
	}
	return Payload{Kind: KindNone}
}

// Parse extracts callback parameters from raw.
func Parse(raw string) Result {
	raw = strings.TrimSpace(raw)

	var (
		res      Result
		query    string
		fragment string
	)

	u, err := url.Parse(raw)
	if err == nil {
		query = u.RawQuery
		fragment = u.EscapedFragment()
		res.Path = pathOf(u)
	} else {
		res.Err = apperror.URLParse(err)
		before, after, _ := strings.Cut(raw, "#")
		fragment = after
		if p, q, ok := strings.Cut(before, "?"); ok {
			query = q
			res.Path = loosePath(p)
		} else {
			res.Path = loosePath(before)
		}
	}

	q := parseValues(query)
	f := parseValues(fragmentQuery(fragment))

	res.Code = q["code"]
	res.Type = pick(f, q, "type")
	res.AccessToken = f["access_token"]
	res.RefreshToken = f["refresh_token"]
	res.TokenHash = pick(f, q, "token_hash")
	res.ErrorDescription = pick(f, q, "error_description")
	if res.ErrorDescription == "" {
		res.ErrorDescription = pick(f, q, "error")
	}

	return res
}

// pick returns the fragment value for key, falling back to the query value.
func pick(fragment, query map[string]string, key string) string {
	if v, ok := fragment[key]; ok && v != "" {
		return v
	}
	return query[key]
}

// fragmentQuery returns the query-string part of a fragment. Hash-router
// fragments such as "/reset-password?type=recovery" carry a route before '?'.
func fragmentQuery(fragment string) string {
	if i := strings.Index(fragment, "?"); i >= 0 && !strings.Contains(fragment[:i], "=") {
		return fragment[i+1:]
	}
	return fragment
}

// parseValues is a lenient query-string splitter: a malformed escape in one
// pair does not discard the others. The first occurrence of a key wins.
func parseValues(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		k = unescape(k)
		if k == "" {
			continue
		}
		if _, seen := out[k]; seen {
			continue
		}
		out[k] = unescape(v)
	}
	return out
}

func unescape(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

func pathOf(u *url.URL) string {
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return u.Path
	}
	if u.Host == "" {
		return u.Path
	}
	return "/" + u.Host + u.Path
}

// loosePath strips "scheme://host" from an unparseable URL prefix.
func loosePath(s string) string {
	if _, rest, ok := strings.Cut(s, "://"); ok {
		if i := strings.Index(rest, "/"); i >= 0 {
			return rest[i:]
		}
		return ""
	}
	return s
}
