package reconciler

import (
	"fmt"
	"strings"

	"github.com/sakif/crewcall/internal/platform"
)

// RecoveryPolicy decides when a PASSWORD_RECOVERY event is believed.
//
// The event stream can report recovery for an ordinary sign-in (a stale
// verifier, a token refresh replaying an old flow). Acting on such an event
// traps the user on the reset screen, so by default web runtimes require the
// URL itself to show it was a recovery link.
type RecoveryPolicy string

const (
	// CorroborateOnWeb trusts the event on native runtimes and requires URL
	// evidence on web runtimes.
	CorroborateOnWeb RecoveryPolicy = "corroborate-on-web"
	// AlwaysCorroborate requires URL evidence everywhere.
	AlwaysCorroborate RecoveryPolicy = "always-corroborate"
	// TrustAlways believes every event.
	TrustAlways RecoveryPolicy = "trust-always"
)

// ParseRecoveryPolicy converts a config value. Empty means CorroborateOnWeb.
func ParseRecoveryPolicy(s string) (RecoveryPolicy, error) {
	switch p := RecoveryPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CorroborateOnWeb, nil
	case CorroborateOnWeb, AlwaysCorroborate, TrustAlways:
		return p, nil
	}
	return "", fmt.Errorf("reconciler: unknown recovery policy %q", s)
}

// Trusts reports whether a recovery event is believed on kind, given whether
// the URL shows recovery evidence.
func (p RecoveryPolicy) Trusts(kind platform.Kind, evidence bool) bool {
	switch p {
	case TrustAlways:
		return true
	case AlwaysCorroborate:
		return evidence
	default:
		return evidence || !kind.IsWeb()
	}
}
