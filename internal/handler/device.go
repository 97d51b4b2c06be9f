package handler

import (
	"net/http"

	"github.com/rs/xid"
)

// DeviceCookie names the cookie that identifies a browser across reloads.
// The web runtime keys its session cache by it, the way a native install
// keys it by its own storage.
const DeviceCookie = "crewcall_device"

const deviceMaxAge = 365 * 24 * 60 * 60

// ensureDevice returns the request's device id, issuing a new cookie when the
// browser has none or a malformed one.
//
// The cookie is:
//   - HttpOnly: page scripts never need it
//   - SameSite=Lax: sent on the top-level navigation an auth mail link makes
func ensureDevice(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(DeviceCookie); err == nil {
		if id, err := xid.FromString(c.Value); err == nil {
			return id.String()
		}
	}

	id := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   deviceMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// requestURL rebuilds the absolute URL the browser asked for, fragment
// excluded (browsers never send it).
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
