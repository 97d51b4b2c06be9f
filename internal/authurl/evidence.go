package authurl

import (
	"net/url"
	"strings"
)

// recoveryRoute is the path segment of the password reset screen.
const recoveryRoute = "reset-password"

// ProvesRecovery reports whether raw itself shows that the user arrived through
// a password reset link: type=recovery in the query or fragment, a token_hash
// parameter, or a path ending in the reset-password route.
//
// The lifecycle stream can emit PASSWORD_RECOVERY for reasons unrelated to the
// link the user opened (a stale token refresh, for one), so the URL is checked
// on its own.
func ProvesRecovery(raw string) bool {
	if raw == "" {
		return false
	}
	res := Parse(raw)
	if res.Type == "recovery" || res.TokenHash != "" {
		return true
	}
	// Substring matching only when the URL defeated the parser; otherwise a key
	// such as content_type=recovery_tips would count.
	if res.Err != nil {
		lower := strings.ToLower(raw)
		if strings.Contains(lower, "type=recovery") || strings.Contains(lower, "token_hash=") {
			return true
		}
	}
	path := strings.TrimRight(res.Path, "/")
	return path == recoveryRoute || strings.HasSuffix(path, "/"+recoveryRoute)
}

// callbackParams are removed by Strip.
var callbackParams = map[string]bool{
	"code":                   true,
	"type":                   true,
	"access_token":           true,
	"refresh_token":          true,
	"expires_in":             true,
	"expires_at":             true,
	"token_type":             true,
	"provider_token":         true,
	"provider_refresh_token": true,
	"token_hash":             true,
	"error":                  true,
	"error_code":             true,
	"error_description":      true,
}

// Strip removes callback parameters from the query and fragment of raw so a
// page refresh cannot replay the callback. Path and unrelated parameters are
// kept byte for byte; an emptied fragment is dropped.
func Strip(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return stripLoose(raw)
	}

	u.RawQuery = stripParams(u.RawQuery)

	frag := u.EscapedFragment()
	u.Fragment = ""
	u.RawFragment = ""

	out := u.String()
	if f := stripFragment(frag); f != "" {
		out += "#" + f
	}
	return out
}

func stripFragment(frag string) string {
	prefix, rest := "", frag
	if i := strings.Index(frag, "?"); i >= 0 && !strings.Contains(frag[:i], "=") {
		prefix, rest = frag[:i], frag[i+1:]
	} else if !strings.Contains(frag, "=") {
		return frag
	}

	rest = stripParams(rest)
	switch {
	case prefix == "":
		return rest
	case rest == "":
		return prefix
	}
	return prefix + "?" + rest
}

func stripParams(q string) string {
	if q == "" {
		return ""
	}
	kept := make([]string, 0, 4)
	for _, part := range strings.Split(q, "&") {
		if part == "" {
			continue
		}
		k, _, _ := strings.Cut(part, "=")
		if callbackParams[unescape(k)] {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func stripLoose(raw string) string {
	before, after, hasFrag := strings.Cut(raw, "#")
	base, query, hasQuery := strings.Cut(before, "?")

	out := base
	if hasQuery {
		if q := stripParams(query); q != "" {
			out += "?" + q
		}
	}
	if hasFrag {
		if f := stripFragment(after); f != "" {
			out += "#" + f
		}
	}
	return out
}
