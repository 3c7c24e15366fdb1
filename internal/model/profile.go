package model

import "time"

// CreatorProfile is the user-facing profile owned by the marketplace. The
// metrics synchronizer only ever fills fields that are still empty; it never
// overwrites something the user set themselves.
type CreatorProfile struct {
	UserID      string    `db:"user_id" json:"userId"`
	DisplayName *string   `db:"display_name" json:"displayName,omitempty"`
	Bio         *string   `db:"bio" json:"bio,omitempty"`
	AvatarURL   *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	Niche       *string   `db:"niche" json:"niche,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

type BackfillProfileParams struct {
	UserID      string
	DisplayName string
	Bio         string
	AvatarURL   string
	Niche       string
}
