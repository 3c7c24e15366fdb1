package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/loopreach/social-sync/internal/middleware"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/provider"
	"github.com/loopreach/social-sync/internal/statecache"
)

// Handler tests exercise the HTTP surface end to end over in-memory fakes,
// with the auth middleware's user already resolved into the request context.

type fakeCredRepo struct {
	cred    *model.SocialCredential
	creds   []*model.SocialCredential
	findErr error

	upserted     *model.UpsertCredentialParams
	disconnected []string
}

func (r *fakeCredRepo) FindByProviderAndUser(ctx context.Context, p model.Provider, userID string) (*model.SocialCredential, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.cred, nil
}

func (r *fakeCredRepo) FindByUser(ctx context.Context, userID string) ([]*model.SocialCredential, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.creds, nil
}

func (r *fakeCredRepo) ListConnected(ctx context.Context, p model.Provider) ([]*model.SocialCredential, error) {
	return r.creds, nil
}

func (r *fakeCredRepo) Upsert(ctx context.Context, params model.UpsertCredentialParams) (*model.SocialCredential, error) {
	r.upserted = &params
	return &model.SocialCredential{
		ID:              "cred-1",
		UserID:          params.UserID,
		Provider:        params.Provider,
		ExternalID:      params.ExternalID,
		AccessToken:     params.AccessToken,
		RefreshToken:    params.RefreshToken,
		PageID:          params.PageID,
		PageToken:       params.PageToken,
		ExpiresAt:       params.ExpiresAt,
		Connected:       true,
		LastConnectedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (r *fakeCredRepo) UpdateTokens(ctx context.Context, params model.UpdateTokensParams) error {
	return nil
}

func (r *fakeCredRepo) UpdateMetrics(ctx context.Context, id string, metrics json.RawMessage) error {
	return nil
}

func (r *fakeCredRepo) SetDisconnected(ctx context.Context, id string) error {
	r.disconnected = append(r.disconnected, id)
	return nil
}

func (r *fakeCredRepo) IncrementRefreshFailures(ctx context.Context, id string) (int, error) {
	return 0, errors.New("not implemented")
}

func (r *fakeCredRepo) ResetRefreshFailures(ctx context.Context, id string) error {
	return nil
}

type fakeStateCache struct {
	entries map[string]statecache.Entry
}

func newFakeStateCache() *fakeStateCache {
	return &fakeStateCache{entries: map[string]statecache.Entry{}}
}

func (c *fakeStateCache) Put(ctx context.Context, state string, entry statecache.Entry) error {
	c.entries[state] = entry
	return nil
}

func (c *fakeStateCache) Consume(ctx context.Context, state string) (*statecache.Entry, error) {
	entry, ok := c.entries[state]
	if !ok {
		return nil, statecache.ErrNotFound
	}
	delete(c.entries, state)
	return &entry, nil
}

type fakeAdapter struct {
	provider    model.Provider
	grant       *provider.Grant
	exchangeErr error
	metrics     *model.NormalizedMetrics
	fetchErr    error
}

func (a *fakeAdapter) Provider() model.Provider { return a.provider }
func (a *fakeAdapter) RequiresPKCE() bool       { return false }

func (a *fakeAdapter) BuildAuthURL(state, codeVerifier string) (string, error) {
	return "https://provider.example/authorize?state=" + state, nil
}

func (a *fakeAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string) (*provider.Grant, error) {
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	return a.grant, nil
}

func (a *fakeAdapter) Refresh(ctx context.Context, cred *model.SocialCredential) (*provider.Grant, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) FetchMetrics(ctx context.Context, cred *model.SocialCredential) (*model.NormalizedMetrics, error) {
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return a.metrics, nil
}

type fakeRegistry struct {
	adapter *fakeAdapter
}

func (r *fakeRegistry) For(p model.Provider) (provider.Adapter, error) {
	if r.adapter != nil && r.adapter.provider == p {
		return r.adapter, nil
	}
	return nil, errors.New("no adapter for " + p.String())
}

const (
	testAPIKey = "test-key"
	testUserID = "user-1"
)

// serveAs routes the request through a chi router with the real auth
// middleware in front, so URL params and the acting user resolve the way
// they do in production.
func serveAs(t *testing.T, method, path string, register func(r chi.Router)) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(middleware.NewAuthMiddleware(testAPIKey, "").Handler)
	register(r)

	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("X-User-ID", testUserID)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// servePublic routes without auth, the way the OAuth callback is mounted.
func servePublic(t *testing.T, method, path string, register func(r chi.Router)) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	register(r)

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
