package model

import (
	"encoding/json"
	"time"
)

// SocialCredential is the stored connection between a platform user and one
// provider account. At most one row exists per (provider, user_id).
//
// A credential is never hard-deleted when a refresh fails: it is marked
// connected=false so the caller can prompt re-authorization while historical
// metrics stay queryable.
type SocialCredential struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"userId"`
	Provider        Provider        `db:"provider" json:"provider"`
	ExternalID      string          `db:"external_id" json:"externalId"`
	AccessToken     string          `db:"access_token" json:"-"`
	RefreshToken    *string         `db:"refresh_token" json:"-"`
	PageID          *string         `db:"page_id" json:"pageId,omitempty"`
	PageToken       *string         `db:"page_token" json:"-"`
	ExpiresAt       time.Time       `db:"expires_at" json:"-"`
	Connected       bool            `db:"connected" json:"connected"`
	LastConnectedAt time.Time       `db:"last_connected_at" json:"lastConnectedAt"`
	RefreshFailures int             `db:"refresh_failures" json:"-"`
	Metrics         json.RawMessage `db:"metrics" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// Expired reports whether the stored access token is past its expiry,
// compared in UTC.
func (c *SocialCredential) Expired(now time.Time) bool {
	return !now.UTC().Before(c.ExpiresAt.UTC())
}

// ExpiresWithin reports whether the token expires inside the given buffer
// window from now.
func (c *SocialCredential) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	return !now.UTC().Before(c.ExpiresAt.UTC().Add(-buffer))
}

// LastMetrics decodes the stored metrics snapshot. Returns nil when no sync
// has run yet.
func (c *SocialCredential) LastMetrics() (*NormalizedMetrics, error) {
	if len(c.Metrics) == 0 {
		return nil, nil
	}
	var m NormalizedMetrics
	if err := json.Unmarshal(c.Metrics, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

type UpsertCredentialParams struct {
	UserID       string
	Provider     Provider
	ExternalID   string
	AccessToken  string
	RefreshToken *string
	PageID       *string
	PageToken    *string
	ExpiresAt    time.Time
}

type UpdateTokensParams struct {
	ID           string
	AccessToken  string
	RefreshToken *string
	PageToken    *string
	ExpiresAt    time.Time
}
