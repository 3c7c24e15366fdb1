package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/loopreach/social-sync/internal/model"
)

type ProfileRepository interface {
	FindByUserID(ctx context.Context, userID string) (*model.CreatorProfile, error)
	BackfillMissing(ctx context.Context, params model.BackfillProfileParams) error
}

type profileRepo struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) FindByUserID(ctx context.Context, userID string) (*model.CreatorProfile, error) {
	var profile model.CreatorProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM creator_profiles
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// BackfillMissing fills profile fields from provider data, but only where the
// stored value is still NULL or empty. A field the user set is never touched.
// The row is created on first contact.
func (r *profileRepo) BackfillMissing(ctx context.Context, params model.BackfillProfileParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO creator_profiles (user_id, display_name, bio, avatar_url, niche)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = CASE WHEN COALESCE(creator_profiles.display_name, '') = '' AND $2 <> '' THEN $2 ELSE creator_profiles.display_name END,
			bio          = CASE WHEN COALESCE(creator_profiles.bio, '') = '' AND $3 <> '' THEN $3 ELSE creator_profiles.bio END,
			avatar_url   = CASE WHEN COALESCE(creator_profiles.avatar_url, '') = '' AND $4 <> '' THEN $4 ELSE creator_profiles.avatar_url END,
			niche        = CASE WHEN COALESCE(creator_profiles.niche, '') = '' AND $5 <> '' THEN $5 ELSE creator_profiles.niche END,
			updated_at   = NOW()
	`, params.UserID, params.DisplayName, params.Bio, params.AvatarURL, params.Niche)
	return err
}
