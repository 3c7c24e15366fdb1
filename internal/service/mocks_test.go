package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/provider"
	"github.com/loopreach/social-sync/internal/statecache"
)

type mockCredentialRepo struct {
	cred    *model.SocialCredential
	findErr error

	upserted       *model.UpsertCredentialParams
	upsertErr      error
	updatedTokens  *model.UpdateTokensParams
	updateErr      error
	updatedMetrics json.RawMessage
	metricsErr     error
	resetIDs       []string
	disconnected   []string
	failures       int
}

func (m *mockCredentialRepo) FindByProviderAndUser(ctx context.Context, p model.Provider, userID string) (*model.SocialCredential, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.cred, nil
}

func (m *mockCredentialRepo) FindByUser(ctx context.Context, userID string) ([]*model.SocialCredential, error) {
	if m.cred == nil {
		return nil, nil
	}
	return []*model.SocialCredential{m.cred}, nil
}

func (m *mockCredentialRepo) ListConnected(ctx context.Context, p model.Provider) ([]*model.SocialCredential, error) {
	if m.cred == nil {
		return nil, nil
	}
	return []*model.SocialCredential{m.cred}, nil
}

func (m *mockCredentialRepo) Upsert(ctx context.Context, params model.UpsertCredentialParams) (*model.SocialCredential, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upserted = &params
	return &model.SocialCredential{
		ID:           "cred-1",
		UserID:       params.UserID,
		Provider:     params.Provider,
		ExternalID:   params.ExternalID,
		AccessToken:  params.AccessToken,
		RefreshToken: params.RefreshToken,
		PageID:       params.PageID,
		PageToken:    params.PageToken,
		ExpiresAt:    params.ExpiresAt,
		Connected:    true,
	}, nil
}

func (m *mockCredentialRepo) UpdateTokens(ctx context.Context, params model.UpdateTokensParams) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updatedTokens = &params
	return nil
}

func (m *mockCredentialRepo) UpdateMetrics(ctx context.Context, id string, metrics json.RawMessage) error {
	if m.metricsErr != nil {
		return m.metricsErr
	}
	m.updatedMetrics = metrics
	return nil
}

func (m *mockCredentialRepo) SetDisconnected(ctx context.Context, id string) error {
	m.disconnected = append(m.disconnected, id)
	return nil
}

func (m *mockCredentialRepo) IncrementRefreshFailures(ctx context.Context, id string) (int, error) {
	m.failures++
	return m.failures, nil
}

func (m *mockCredentialRepo) ResetRefreshFailures(ctx context.Context, id string) error {
	m.resetIDs = append(m.resetIDs, id)
	return nil
}

type mockProfileRepo struct {
	backfilled *model.BackfillProfileParams
	err        error
}

func (m *mockProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.CreatorProfile, error) {
	return nil, nil
}

func (m *mockProfileRepo) BackfillMissing(ctx context.Context, params model.BackfillProfileParams) error {
	if m.err != nil {
		return m.err
	}
	m.backfilled = &params
	return nil
}

type mockStateCache struct {
	entries map[string]statecache.Entry
	putErr  error
}

func newMockStateCache() *mockStateCache {
	return &mockStateCache{entries: map[string]statecache.Entry{}}
}

func (m *mockStateCache) Put(ctx context.Context, state string, entry statecache.Entry) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[state] = entry
	return nil
}

func (m *mockStateCache) Consume(ctx context.Context, state string) (*statecache.Entry, error) {
	entry, ok := m.entries[state]
	if !ok {
		return nil, statecache.ErrNotFound
	}
	delete(m.entries, state)
	return &entry, nil
}

type mockAdapter struct {
	provider model.Provider
	pkce     bool

	authURL     string
	authErr     error
	lastState   string
	lastChal    string
	grant       *provider.Grant
	exchangeErr error
	refreshed   *provider.Grant
	refreshErr  error
	metrics     *model.NormalizedMetrics
	fetchErr    error
	refreshes   int
}

func (m *mockAdapter) Provider() model.Provider { return m.provider }
func (m *mockAdapter) RequiresPKCE() bool       { return m.pkce }

func (m *mockAdapter) BuildAuthURL(state, codeVerifier string) (string, error) {
	if m.authErr != nil {
		return "", m.authErr
	}
	m.lastState = state
	m.lastChal = codeVerifier
	if m.authURL != "" {
		return m.authURL, nil
	}
	return "https://provider.example/authorize?state=" + state, nil
}

func (m *mockAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string) (*provider.Grant, error) {
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return m.grant, nil
}

func (m *mockAdapter) Refresh(ctx context.Context, cred *model.SocialCredential) (*provider.Grant, error) {
	m.refreshes++
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.refreshed, nil
}

func (m *mockAdapter) FetchMetrics(ctx context.Context, cred *model.SocialCredential) (*model.NormalizedMetrics, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.metrics, nil
}

type mockRegistry struct {
	adapters map[model.Provider]provider.Adapter
}

func (m *mockRegistry) For(p model.Provider) (provider.Adapter, error) {
	adapter, ok := m.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider %s", p)
	}
	return adapter, nil
}

func registryWith(adapter *mockAdapter) *mockRegistry {
	return &mockRegistry{adapters: map[model.Provider]provider.Adapter{adapter.provider: adapter}}
}
