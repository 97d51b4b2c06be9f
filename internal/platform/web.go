package platform

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sakif/crewcall/internal/retry"
)

// Location reports the current document location, if the page has one yet.
type Location interface {
	Href() (raw string, ok bool)
}

// LocationFunc adapts a function to Location.
type LocationFunc func() (string, bool)

func (f LocationFunc) Href() (string, bool) { return f() }

// ReportedLocation is a Location fed by the page itself (through the web
// bridge). It is empty until the first report arrives.
type ReportedLocation struct {
	mu   sync.RWMutex
	href string
}

// Report records the page's current location.
func (l *ReportedLocation) Report(raw string) {
	l.mu.Lock()
	l.href = raw
	l.mu.Unlock()
}

func (l *ReportedLocation) Href() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.href, l.href != ""
}

// WebSource is the URL source of browser runtimes.
type WebSource struct {
	location Location
	policy   retry.Policy
	logger   *slog.Logger
}

// NewWeb creates a WebSource polling location with policy.
func NewWeb(location Location, policy retry.Policy, logger *slog.Logger) *WebSource {
	return &WebSource{location: location, policy: policy, logger: logger}
}

func (w *WebSource) EntryURL(ctx context.Context) (string, bool, error) {
	raw, ok, err := retry.Poll(ctx, w.policy, func(context.Context) (string, bool, error) {
		raw, ok := w.location.Href()
		return raw, ok && raw != "", nil
	})
	if err != nil {
		return "", false, err
	}
	if !ok {
		w.logger.Warn("document location unavailable after polling",
			slog.Int("attempts", w.policy.Attempts),
			slog.Duration("interval", w.policy.Interval),
		)
	}
	return raw, ok, nil
}

// Subscribe registers nothing: SPA navigation never re-delivers an entry URL.
func (w *WebSource) Subscribe(func(string)) func() {
	return func() {}
}
