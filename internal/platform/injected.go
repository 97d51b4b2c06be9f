package platform

import "context"

// InjectedSource answers EntryURL with the URL the host page captured before
// the app started, which sidesteps browsers that report the location late.
type InjectedSource struct {
	captured string
	fallback URLSource
}

// NewInjected creates an InjectedSource. fallback may be nil.
func NewInjected(captured string, fallback URLSource) *InjectedSource {
	return &InjectedSource{captured: captured, fallback: fallback}
}

func (s *InjectedSource) EntryURL(ctx context.Context) (string, bool, error) {
	if s.captured != "" {
		return s.captured, true, nil
	}
	if s.fallback == nil {
		return "", false, nil
	}
	return s.fallback.EntryURL(ctx)
}

func (s *InjectedSource) Subscribe(onChange func(string)) func() {
	if s.fallback == nil {
		return func() {}
	}
	return s.fallback.Subscribe(onChange)
}

// DefaultedSource asks another source first and answers with a known URL only
// when that source reports nothing.
type DefaultedSource struct {
	source   URLSource
	fallback string
}

// NewDefaulted creates a DefaultedSource. An empty fallback leaves source's
// answer unchanged.
func NewDefaulted(source URLSource, fallback string) *DefaultedSource {
	return &DefaultedSource{source: source, fallback: fallback}
}

func (s *DefaultedSource) EntryURL(ctx context.Context) (string, bool, error) {
	raw, ok, err := s.source.EntryURL(ctx)
	if err != nil || ok || s.fallback == "" {
		return raw, ok, err
	}
	return s.fallback, true, nil
}

func (s *DefaultedSource) Subscribe(onChange func(string)) func() {
	return s.source.Subscribe(onChange)
}
