package platform

import (
	"context"
	"log/slog"

	"github.com/sakif/crewcall/internal/authurl"
	"github.com/sakif/crewcall/internal/retry"
)

// LaunchURLFunc asks the OS which link, if any, launched the app.
type LaunchURLFunc func() (raw string, ok bool)

// NativeSource is the URL source of the native runtime.
type NativeSource struct {
	launch LaunchURLFunc
	policy retry.Policy
	subs   listeners
	logger *slog.Logger
}

// NewNative creates a NativeSource. A nil launch function means the app was
// never launched through a link; EntryURL then answers at once instead of
// polling.
func NewNative(launch LaunchURLFunc, policy retry.Policy, logger *slog.Logger) *NativeSource {
	return &NativeSource{launch: launch, policy: policy, logger: logger}
}

func (n *NativeSource) EntryURL(ctx context.Context) (string, bool, error) {
	if n.launch == nil {
		return "", false, nil
	}
	raw, ok, err := retry.Poll(ctx, n.policy, func(context.Context) (string, bool, error) {
		raw, ok := n.launch()
		return raw, ok && raw != "", nil
	})
	if err != nil {
		return "", false, err
	}
	if !ok {
		n.logger.Debug("no launch url reported", slog.Int("attempts", n.policy.Attempts))
	}
	return raw, ok, nil
}

func (n *NativeSource) Subscribe(onChange func(string)) func() {
	return n.subs.add(onChange)
}

// Deliver hands an OS deep-link event to every subscriber, in subscription order.
func (n *NativeSource) Deliver(raw string) {
	// Legacy links carry tokens in the fragment; only the stripped form is logged.
	n.logger.Info("deep link received",
		slog.String("url", authurl.Strip(raw)),
		slog.Int("subscribers", n.subs.len()),
	)
	n.subs.emit(raw)
}
