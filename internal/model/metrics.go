package model

import "time"

// NormalizedMetrics is the provider-agnostic snapshot every adapter's raw
// responses are mapped into. Each sync replaces the previous snapshot in
// full, except FollowerGrowth which carries a rolling window across runs.
type NormalizedMetrics struct {
	Provider       Provider        `json:"provider"`
	ExternalID     string          `json:"externalId"`
	Followers      int64           `json:"followers"`
	EngagementRate float64         `json:"engagementRate"`
	RecentPosts    []PostStats     `json:"recentPosts"`
	PeakHours      []HourBucket    `json:"peakHours"`
	Demographics   Demographics    `json:"demographics"`
	FollowerGrowth []GrowthPoint   `json:"followerGrowth"`
	Profile        ProviderProfile `json:"profile"`
	SyncedAt       time.Time       `json:"syncedAt"`
}

// PostStats is the per-content performance slice (video, post or tweet).
type PostStats struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Views       int64     `json:"views"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
	Shares      int64     `json:"shares"`
	PublishedAt time.Time `json:"publishedAt"`
}

// HourBucket scores audience activity for one hour of the day (0-23, UTC).
type HourBucket struct {
	Hour  int     `json:"hour"`
	Score float64 `json:"score"`
}

// Demographics is the audience breakdown slice. All maps hold percentages.
// Providers that expose no demographics leave the zero value.
type Demographics struct {
	AgeBuckets   map[string]float64 `json:"ageBuckets,omitempty"`
	GenderSplit  map[string]float64 `json:"genderSplit,omitempty"`
	TopCountries map[string]float64 `json:"topCountries,omitempty"`
}

// GrowthPoint is one follower-count sample. Date is a UTC calendar day in
// YYYY-MM-DD form; at most one point exists per day.
type GrowthPoint struct {
	Date      string `json:"date"`
	Followers int64  `json:"followers"`
}

// GrowthDateLayout is the layout used for GrowthPoint.Date.
const GrowthDateLayout = "2006-01-02"

// ProviderProfile carries the public profile fields a provider exposes,
// used to backfill empty fields on the owning creator profile.
type ProviderProfile struct {
	DisplayName string `json:"displayName,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Niche       string `json:"niche,omitempty"`
}
