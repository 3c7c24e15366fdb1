package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/repository"
)

// MetricsService pulls a provider's insight endpoints into the normalized
// snapshot and persists it. Each sync fully replaces the stored snapshot,
// except the follower-growth series which carries a rolling window across
// runs.
type MetricsService struct {
	tokens    *TokenService
	creds     repository.CredentialRepository
	profiles  repository.ProfileRepository
	registry  AdapterRegistry
	retention time.Duration
	now       func() time.Time
}

func NewMetricsService(
	tokens *TokenService,
	creds repository.CredentialRepository,
	profiles repository.ProfileRepository,
	registry AdapterRegistry,
	retention time.Duration,
) *MetricsService {
	return &MetricsService{
		tokens:    tokens,
		creds:     creds,
		profiles:  profiles,
		registry:  registry,
		retention: retention,
		now:       time.Now,
	}
}

// Sync refreshes the token if needed, fetches fresh metrics, merges the
// growth series, backfills missing profile fields, and stores the snapshot.
func (s *MetricsService) Sync(ctx context.Context, p model.Provider, userID string) (*model.NormalizedMetrics, error) {
	cred, err := s.tokens.GetValidToken(ctx, p, userID)
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.For(p)
	if err != nil {
		return nil, apperrors.Internal("provider not supported").WithCause(err)
	}

	metrics, err := adapter.FetchMetrics(ctx, cred)
	if err != nil {
		return nil, err
	}

	prev, err := cred.LastMetrics()
	if err != nil {
		log.Warn().Err(err).Str("credentialId", cred.ID).Msg("discarding unreadable stored metrics")
	}
	var prevGrowth []model.GrowthPoint
	if prev != nil {
		prevGrowth = prev.FollowerGrowth
	}
	metrics.FollowerGrowth = mergeGrowth(prevGrowth, metrics.Followers, s.now(), s.retention)

	s.backfillProfile(ctx, userID, metrics.Profile)

	data, err := json.Marshal(metrics)
	if err != nil {
		return nil, apperrors.Internal("failed to encode metrics").WithCause(err)
	}
	if err := s.creds.UpdateMetrics(ctx, cred.ID, data); err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("provider", p.String()).
		Str("userId", userID).
		Int64("followers", metrics.Followers).
		Msg("metrics synced")

	return metrics, nil
}

// LastSnapshot returns the stored snapshot without touching the provider.
func (s *MetricsService) LastSnapshot(ctx context.Context, p model.Provider, userID string) (*model.NormalizedMetrics, error) {
	cred, err := s.creds.FindByProviderAndUser(ctx, p, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if cred == nil {
		return nil, apperrors.NotConnected(p.String())
	}
	metrics, err := cred.LastMetrics()
	if err != nil {
		return nil, apperrors.Internal("failed to decode stored metrics").WithCause(err)
	}
	if metrics == nil {
		return nil, apperrors.NotFound("metrics snapshot")
	}
	return metrics, nil
}

// backfillProfile is a one-directional, missing-only merge: provider fields
// land on the creator profile only where the stored value is empty. Failures
// never fail the sync.
func (s *MetricsService) backfillProfile(ctx context.Context, userID string, profile model.ProviderProfile) {
	if profile == (model.ProviderProfile{}) {
		return
	}
	err := s.profiles.BackfillMissing(ctx, model.BackfillProfileParams{
		UserID:      userID,
		DisplayName: profile.DisplayName,
		Bio:         profile.Bio,
		AvatarURL:   profile.AvatarURL,
		Niche:       profile.Niche,
	})
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("profile backfill failed")
	}
}

// mergeGrowth appends today's follower count to the series, replacing an
// existing point for the same calendar day, and trims entries older than the
// retention window.
func mergeGrowth(prev []model.GrowthPoint, followers int64, now time.Time, retention time.Duration) []model.GrowthPoint {
	today := now.UTC().Format(model.GrowthDateLayout)
	cutoff := now.UTC().Add(-retention).Format(model.GrowthDateLayout)

	merged := make([]model.GrowthPoint, 0, len(prev)+1)
	for _, pt := range prev {
		if pt.Date == today || pt.Date < cutoff {
			continue
		}
		merged = append(merged, pt)
	}
	merged = append(merged, model.GrowthPoint{Date: today, Followers: followers})
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	return merged
}
