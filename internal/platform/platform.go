// Package platform abstracts how the hosting runtime exposes the URL the app
// was opened with, later in-app URL opens, and the visible address.
//
// There are three sources:
//
//   - Native: the OS "launched via link" API plus deep-link events. The launch
//     API may report nothing even though a link was used, so it is polled.
//   - Web: the current document location, polled because some mobile browsers
//     report it late. SPA navigation does not produce change events.
//   - Injected: the URL the host page captured before any app code ran. It
//     wraps one of the others as a fallback.
package platform

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the runtime the client core is hosted in.
type Kind string

const (
	Native    Kind = "native"
	Web       Kind = "web"
	Localhost Kind = "localhost"
)

// ParseKind converts a config value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Native, Web, Localhost:
		return k, nil
	}
	return "", fmt.Errorf("platform: unknown kind %q", s)
}

// IsWeb reports whether the runtime has a browser location and address bar.
// The localhost dev target behaves like the web.
func (k Kind) IsWeb() bool {
	return k == Web || k == Localhost
}

// URLSource exposes the entry URL and subsequent URL-open events.
type URLSource interface {
	// EntryURL returns the URL the app was opened with. ok is false when no URL
	// is available, which callers must treat as a normal cold start.
	EntryURL(ctx context.Context) (raw string, ok bool, err error)

	// Subscribe registers onChange for every later in-app URL open. The
	// returned function unsubscribes and is safe to call more than once.
	Subscribe(onChange func(raw string)) (unsubscribe func())
}

// AddressBar silently replaces the visible address without navigating.
type AddressBar interface {
	Replace(raw string)
}

// AddressBarFunc adapts a function to AddressBar.
type AddressBarFunc func(raw string)

func (f AddressBarFunc) Replace(raw string) { f(raw) }

// NoAddressBar is used on runtimes without an address bar.
type NoAddressBar struct{}

func (NoAddressBar) Replace(string) {}
