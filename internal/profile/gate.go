// Package profile derives the profile gates the router needs and keeps the
// signed-in user's profile current.
package profile

import (
	"strings"

	"github.com/sakif/crewcall/internal/model"
)

// IsComplete reports whether p has everything the main app requires:
// a non-blank full name, a main role and a city. nil is incomplete.
func IsComplete(p *model.Profile) bool {
	if p == nil {
		return false
	}
	return strings.TrimSpace(p.FullName) != "" && p.MainRoleID != nil && p.CityID != nil
}

// IsSubscribed reports whether p has a paying or trialing subscription.
func IsSubscribed(p *model.Profile) bool {
	if p == nil {
		return false
	}
	switch p.SubscriptionStatus {
	case "active", "trialing":
		return true
	}
	return false
}
