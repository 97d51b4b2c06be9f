package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/repository"
)

var _ repository.ProfileCache = (*DB)(nil)

// GetProfile returns the cached profile row, or apperror.ErrNotFound.
//
// NULLABLE COLUMNS:
// main_role_id and city_id are NULL until the user picks them. Scanning into
// sql.NullInt64 keeps "not chosen" distinct from 0.
func (db *DB) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var (
		p      model.Profile
		roleID sql.NullInt64
		cityID sql.NullInt64
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, full_name, main_role_id, city_id, avatar_url, portfolio_url,
		        subscription_status, updated_at
		 FROM profiles WHERE id = ?`,
		id,
	).Scan(
		&p.ID,
		&p.FullName,
		&roleID,
		&cityID,
		&p.AvatarURL,
		&p.PortfolioURL,
		&p.SubscriptionStatus,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", id)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", id, err)
	}

	if roleID.Valid {
		p.MainRoleID = &roleID.Int64
	}
	if cityID.Valid {
		p.CityID = &cityID.Int64
	}
	return &p, nil
}

// SaveProfile upserts profile. A zero UpdatedAt is stamped with the current time.
func (db *DB) SaveProfile(ctx context.Context, profile *model.Profile) error {
	if profile == nil || profile.ID == "" {
		return apperror.ValidationFailed("id", "profile id is required")
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (id, full_name, main_role_id, city_id, avatar_url,
		                       portfolio_url, subscription_status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			main_role_id = excluded.main_role_id,
			city_id = excluded.city_id,
			avatar_url = excluded.avatar_url,
			portfolio_url = excluded.portfolio_url,
			subscription_status = excluded.subscription_status,
			updated_at = excluded.updated_at`,
		profile.ID,
		profile.FullName,
		nullInt(profile.MainRoleID),
		nullInt(profile.CityID),
		profile.AvatarURL,
		profile.PortfolioURL,
		profile.SubscriptionStatus,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving profile %s: %w", profile.ID, err)
	}
	return nil
}

// DeleteProfile removes the cached row of id.
func (db *DB) DeleteProfile(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting profile %s: %w", id, err)
	}
	return nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
