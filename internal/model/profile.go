package model

import "time"

// Profile is the user's row in the backend "users" table, mirrored locally as
// a read cache.
//
// WHY POINTERS FOR THE ROLE AND CITY IDS?
// The backend stores them as nullable foreign keys. A nil pointer means "not
// chosen yet", which is different from a legitimate id of 0 in the lookup
// tables. FullName stays a plain string: NULL and "" both mean "missing".
type Profile struct {
	ID                 string    `json:"id"`
	FullName           string    `json:"full_name"`
	MainRoleID         *int64    `json:"main_role_id"`
	CityID             *int64    `json:"city_id"`
	AvatarURL          string    `json:"avatar_url"`
	PortfolioURL       string    `json:"portfolio_url"`
	SubscriptionStatus string    `json:"subscription_status,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}
