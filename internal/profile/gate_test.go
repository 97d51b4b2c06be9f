package profile

import (
	"testing"

	"github.com/sakif/crewcall/internal/model"
)

func id(v int64) *int64 { return &v }

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name    string
		profile *model.Profile
		want    bool
	}{
		{"all present", &model.Profile{FullName: "A", MainRoleID: id(1), CityID: id(2)}, true},
		{"zero ids are real ids", &model.Profile{FullName: "A", MainRoleID: id(0), CityID: id(0)}, true},
		{"nil profile", nil, false},
		{"empty name", &model.Profile{FullName: "", MainRoleID: id(1), CityID: id(2)}, false},
		{"blank name", &model.Profile{FullName: "   ", MainRoleID: id(1), CityID: id(2)}, false},
		{"no role", &model.Profile{FullName: "A", CityID: id(2)}, false},
		{"no city", &model.Profile{FullName: "A", MainRoleID: id(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsComplete(tt.profile); got != tt.want {
				t.Errorf("IsComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSubscribed(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"active", true},
		{"trialing", true},
		{"past_due", false},
		{"canceled", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := IsSubscribed(&model.Profile{SubscriptionStatus: tt.status}); got != tt.want {
				t.Errorf("IsSubscribed(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
	if IsSubscribed(nil) {
		t.Error("IsSubscribed(nil) = true")
	}
}
