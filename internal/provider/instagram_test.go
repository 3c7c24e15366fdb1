package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
)

func newTestInstagram(t *testing.T, handler http.Handler) *Instagram {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Instagram{
		appID:       "ig-app",
		appSecret:   "ig-secret",
		redirectURI: "https://api.example.com/v1/connect/instagram/callback",
		graph:       &graphClient{http: server.Client(), baseURL: server.URL},
	}
}

func TestInstagramBuildAuthURL(t *testing.T) {
	ig := NewInstagram(testConfig())

	authURL, err := ig.BuildAuthURL("state-xyz", "")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "ig-app", q.Get("client_id"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "instagram_manage_insights")
}

func TestInstagramExchangeCode(t *testing.T) {
	ig := newTestInstagram(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/access_token":
			if r.URL.Query().Get("grant_type") == "fb_exchange_token" {
				json.NewEncoder(w).Encode(map[string]any{"access_token": "long-token", "expires_in": 5184000})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"access_token": "short-token", "expires_in": 3600})
		case "/me/accounts":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": "page-1", "access_token": "pt-1"},
					{"id": "page-2", "access_token": "pt-2", "instagram_business_account": map[string]string{"id": "ig-42"}},
				},
			})
		case "/ig-42":
			json.NewEncoder(w).Encode(map[string]any{
				"username":            "creator.ig",
				"biography":           "daily posts",
				"profile_picture_url": "https://img.example/ig.jpg",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	grant, err := ig.ExchangeCode(context.Background(), "auth-code", "")
	require.NoError(t, err)

	// The connected identity is the Instagram business account, not the page.
	assert.Equal(t, "ig-42", grant.ExternalID)
	require.NotNil(t, grant.PageID)
	assert.Equal(t, "page-2", *grant.PageID)
	require.NotNil(t, grant.PageToken)
	assert.Equal(t, "pt-2", *grant.PageToken)
	assert.Equal(t, "creator.ig", grant.Profile.DisplayName)
}

func TestInstagramExchangeCodeNoBusinessAccount(t *testing.T) {
	ig := newTestInstagram(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/access_token":
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
		case "/me/accounts":
			// Pages exist but none has an attached business account.
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "page-1", "access_token": "pt-1"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	_, err := ig.ExchangeCode(context.Background(), "auth-code", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNoPageFound))
}

func TestInstagramFetchMetrics(t *testing.T) {
	pageToken := "pt-2"
	cred := &model.SocialCredential{ExternalID: "ig-42", PageToken: &pageToken}

	ig := newTestInstagram(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ig-42":
			json.NewEncoder(w).Encode(map[string]any{
				"username":        "creator.ig",
				"followers_count": 12000,
				"media_count":     321,
			})
		case "/ig-42/media":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{
					"id":             "media-1",
					"caption":        "sunset",
					"like_count":     300,
					"comments_count": 60,
					"timestamp":      "2024-05-30T19:00:00Z",
				}},
			})
		case "/ig-42/insights":
			switch r.URL.Query().Get("metric") {
			case "audience_gender_age,audience_country":
				json.NewEncoder(w).Encode(map[string]any{
					"data": []map[string]any{
						{"name": "audience_gender_age", "values": []map[string]any{{"value": map[string]int{"F.18-24": 75, "M.18-24": 25}}}},
						{"name": "audience_country", "values": []map[string]any{{"value": map[string]float64{"US": 61.0}}}},
					},
				})
			case "online_followers":
				json.NewEncoder(w).Encode(map[string]any{
					"data": []map[string]any{
						{"name": "online_followers", "values": []map[string]any{{"value": map[string]int{"19": 40, "20": 80}}}},
					},
				})
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	m, err := ig.FetchMetrics(context.Background(), cred)
	require.NoError(t, err)

	assert.Equal(t, model.ProviderInstagram, m.Provider)
	assert.Equal(t, int64(12000), m.Followers)
	require.Len(t, m.RecentPosts, 1)
	// (300 + 60) / 12000 * 100
	assert.InDelta(t, 3.0, m.EngagementRate, 0.0001)
	assert.InDelta(t, 75.0, m.Demographics.GenderSplit["F"], 0.0001)
	assert.InDelta(t, 61.0, m.Demographics.TopCountries["US"], 0.0001)
	require.Len(t, m.PeakHours, 2)
	assert.InDelta(t, 0.5, m.PeakHours[0].Score, 0.0001)
	assert.InDelta(t, 1.0, m.PeakHours[1].Score, 0.0001)
}

func TestInstagramFetchMetricsWithoutPageToken(t *testing.T) {
	ig := newTestInstagram(t, http.NotFoundHandler())
	_, err := ig.FetchMetrics(context.Background(), &model.SocialCredential{ExternalID: "ig-42"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotConnected))
}
