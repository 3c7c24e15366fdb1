package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/repository"
)

// TokenService guarantees callers never receive an expired access token.
// When the stored token is expired or inside the provider's refresh buffer it
// refreshes through the adapter and persists the result before returning.
//
// Concurrent calls for the same (provider, userId) are not linearized: both
// may hit the provider's refresh endpoint, and the last write wins. Providers
// keep the previous refresh token valid for a grace window across rotations,
// so this is tolerated rather than locked.
type TokenService struct {
	cfg      *config.Config
	creds    repository.CredentialRepository
	registry AdapterRegistry
	now      func() time.Time
}

func NewTokenService(cfg *config.Config, creds repository.CredentialRepository, registry AdapterRegistry) *TokenService {
	return &TokenService{
		cfg:      cfg,
		creds:    creds,
		registry: registry,
		now:      time.Now,
	}
}

// GetValidToken returns the credential with a currently-valid access token
// (and page token where the provider carries one). It fails with NotConnected
// when no usable credential is on file, and surfaces refresh failures to the
// caller without flipping the connected flag: disconnect policy belongs to
// the reconciliation job.
func (s *TokenService) GetValidToken(ctx context.Context, p model.Provider, userID string) (*model.SocialCredential, error) {
	cred, err := s.creds.FindByProviderAndUser(ctx, p, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if cred == nil || !cred.Connected || cred.AccessToken == "" {
		return nil, apperrors.NotConnected(p.String())
	}

	buffer := s.cfg.RefreshBuffer(p)
	if !cred.ExpiresWithin(s.now(), buffer) {
		return cred, nil
	}

	return s.refresh(ctx, cred)
}

func (s *TokenService) refresh(ctx context.Context, cred *model.SocialCredential) (*model.SocialCredential, error) {
	adapter, err := s.registry.For(cred.Provider)
	if err != nil {
		return nil, apperrors.Internal("provider not supported").WithCause(err)
	}

	grant, err := adapter.Refresh(ctx, cred)
	if err != nil {
		return nil, err
	}

	if err := s.creds.UpdateTokens(ctx, model.UpdateTokensParams{
		ID:           cred.ID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		PageToken:    grant.PageToken,
		ExpiresAt:    grant.ExpiresAt,
	}); err != nil {
		return nil, apperrors.Database(err)
	}
	if err := s.creds.ResetRefreshFailures(ctx, cred.ID); err != nil {
		log.Warn().Err(err).Str("credentialId", cred.ID).Msg("failed to reset refresh failure count")
	}

	cred.AccessToken = grant.AccessToken
	if grant.RefreshToken != nil {
		cred.RefreshToken = grant.RefreshToken
	}
	if grant.PageToken != nil {
		cred.PageToken = grant.PageToken
	}
	cred.ExpiresAt = grant.ExpiresAt
	cred.LastConnectedAt = s.now().UTC()
	cred.RefreshFailures = 0

	log.Info().
		Str("provider", cred.Provider.String()).
		Str("userId", cred.UserID).
		Time("expiresAt", cred.ExpiresAt).
		Msg("token refreshed")

	return cred, nil
}
