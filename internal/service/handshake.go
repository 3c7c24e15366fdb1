package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/provider"
	"github.com/loopreach/social-sync/internal/repository"
	"github.com/loopreach/social-sync/internal/statecache"
	"github.com/loopreach/social-sync/internal/util"
)

// AdapterRegistry resolves provider adapters. Satisfied by *provider.Registry.
type AdapterRegistry interface {
	For(p model.Provider) (provider.Adapter, error)
}

// StateCache binds handshake state tokens to the requesting user for a short
// TTL. Satisfied by *statecache.Cache.
type StateCache interface {
	Put(ctx context.Context, state string, entry statecache.Entry) error
	Consume(ctx context.Context, state string) (*statecache.Entry, error)
}

// HandshakeService orchestrates the OAuth handshake: it issues authorization
// URLs bound to single-use state tokens and completes callbacks into
// credential rows.
type HandshakeService struct {
	states   StateCache
	creds    repository.CredentialRepository
	registry AdapterRegistry
}

func NewHandshakeService(states StateCache, creds repository.CredentialRepository, registry AdapterRegistry) *HandshakeService {
	return &HandshakeService{
		states:   states,
		creds:    creds,
		registry: registry,
	}
}

// BeginAuth generates a state token (plus a PKCE verifier where the provider
// needs one), stores the binding, and returns the authorization URL. No
// credential row is touched.
func (s *HandshakeService) BeginAuth(ctx context.Context, userID string, p model.Provider) (authURL, state string, err error) {
	adapter, err := s.registry.For(p)
	if err != nil {
		return "", "", apperrors.Internal("provider not supported").WithCause(err)
	}

	state, err = util.GenerateToken()
	if err != nil {
		return "", "", apperrors.Internal("failed to generate state").WithCause(err)
	}

	var verifier string
	if adapter.RequiresPKCE() {
		verifier, err = util.GenerateToken()
		if err != nil {
			return "", "", apperrors.Internal("failed to generate code verifier").WithCause(err)
		}
	}

	if err := s.states.Put(ctx, state, statecache.Entry{
		UserID:       userID,
		Provider:     p,
		CodeVerifier: verifier,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return "", "", apperrors.Internal("failed to store handshake state").WithCause(err)
	}

	authURL, err = adapter.BuildAuthURL(state, verifier)
	if err != nil {
		return "", "", apperrors.Internal("failed to build authorization url").WithCause(err)
	}

	log.Debug().Str("provider", p.String()).Str("userId", userID).Msg("handshake started")
	return authURL, state, nil
}

// CompleteAuth validates the callback, exchanges the code, and upserts the
// credential. The state entry is consumed atomically: replaying the same
// callback fails with InvalidState.
func (s *HandshakeService) CompleteAuth(ctx context.Context, p model.Provider, code, state string) (*model.SocialCredential, error) {
	if code == "" {
		return nil, apperrors.MissingParameter("code")
	}
	if state == "" {
		return nil, apperrors.MissingParameter("state")
	}

	entry, err := s.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, statecache.ErrNotFound) {
			return nil, apperrors.InvalidState()
		}
		return nil, apperrors.Internal("failed to look up handshake state").WithCause(err)
	}
	if entry.Provider != p {
		return nil, apperrors.InvalidState()
	}

	adapter, err := s.registry.For(p)
	if err != nil {
		return nil, apperrors.Internal("provider not supported").WithCause(err)
	}

	grant, err := adapter.ExchangeCode(ctx, code, entry.CodeVerifier)
	if err != nil {
		return nil, err
	}

	cred, err := s.creds.Upsert(ctx, model.UpsertCredentialParams{
		UserID:       entry.UserID,
		Provider:     p,
		ExternalID:   grant.ExternalID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		PageID:       grant.PageID,
		PageToken:    grant.PageToken,
		ExpiresAt:    grant.ExpiresAt,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("provider", p.String()).
		Str("userId", entry.UserID).
		Str("externalId", grant.ExternalID).
		Msg("account connected")

	return cred, nil
}
