package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestProfile_SaveAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	in := &model.Profile{
		ID:                 "u1",
		FullName:           "Ada Grip",
		MainRoleID:         ptr(3),
		CityID:             ptr(0),
		AvatarURL:          "https://cdn.example.com/a.png",
		SubscriptionStatus: "trialing",
	}
	require.NoError(t, db.SaveProfile(ctx, in))
	assert.False(t, in.UpdatedAt.IsZero(), "SaveProfile stamps UpdatedAt")

	got, err := db.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Grip", got.FullName)
	require.NotNil(t, got.MainRoleID)
	assert.Equal(t, int64(3), *got.MainRoleID)
	require.NotNil(t, got.CityID, "0 is a real city id, not NULL")
	assert.Equal(t, int64(0), *got.CityID)
	assert.Equal(t, "trialing", got.SubscriptionStatus)
}

func TestProfile_UpsertClearsNullables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveProfile(ctx, &model.Profile{ID: "u1", FullName: "A", MainRoleID: ptr(1), CityID: ptr(2)}))
	require.NoError(t, db.SaveProfile(ctx, &model.Profile{ID: "u1", FullName: "B"}))

	got, err := db.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "B", got.FullName)
	assert.Nil(t, got.MainRoleID)
	assert.Nil(t, got.CityID)
}

func TestProfile_NotFoundAndValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	err = db.SaveProfile(ctx, &model.Profile{FullName: "no id"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	require.NoError(t, db.SaveProfile(ctx, &model.Profile{ID: "u1"}))
	require.NoError(t, db.DeleteProfile(ctx, "u1"))
	_, err = db.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
