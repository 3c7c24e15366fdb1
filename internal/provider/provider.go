// Package provider holds one adapter per social platform. Adapters share a
// capability surface (auth URL, code exchange, refresh, metrics fetch) but
// differ in handshake shape: Twitter uses PKCE, Instagram/Facebook exchange
// long-lived tokens over the Graph API, YouTube rides golang.org/x/oauth2.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
)

// Grant is the result of a code exchange or refresh.
type Grant struct {
	ExternalID   string
	AccessToken  string
	RefreshToken *string
	PageID       *string
	PageToken    *string
	ExpiresAt    time.Time
	Profile      model.ProviderProfile
}

// Adapter is the per-provider capability interface. Implementations never
// retry internally; every outbound call carries a request timeout.
type Adapter interface {
	Provider() model.Provider

	// BuildAuthURL returns the provider's authorization URL with the state
	// embedded. codeVerifier is only set for PKCE providers.
	BuildAuthURL(state, codeVerifier string) (string, error)

	// ExchangeCode swaps an authorization code for tokens and resolves the
	// provider-scoped account (channel, page, user).
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Grant, error)

	// Refresh obtains a fresh access token for a stored credential.
	Refresh(ctx context.Context, cred *model.SocialCredential) (*Grant, error)

	// FetchMetrics pulls the provider's insight endpoints and maps them into
	// the normalized schema. Enrichment slices degrade to zero defaults; only
	// a failing core profile lookup fails the whole call.
	FetchMetrics(ctx context.Context, cred *model.SocialCredential) (*model.NormalizedMetrics, error)

	// RequiresPKCE reports whether the handshake needs a verifier/challenge.
	RequiresPKCE() bool
}

// Registry resolves adapters by provider tag.
type Registry struct {
	adapters map[model.Provider]Adapter
}

func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		adapters: map[model.Provider]Adapter{
			model.ProviderYouTube:   NewYouTube(cfg),
			model.ProviderInstagram: NewInstagram(cfg),
			model.ProviderFacebook:  NewFacebook(cfg),
			model.ProviderTwitter:   NewTwitter(cfg),
		},
	}
}

func (r *Registry) For(p model.Provider) (Adapter, error) {
	adapter, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider %s", p)
	}
	return adapter, nil
}

func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, p := range model.Providers {
		if a, ok := r.adapters[p]; ok {
			out = append(out, a)
		}
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: config.ProviderRequestTimeout}
}

// metricsSlice is one independently fault-tolerant insight call.
type metricsSlice struct {
	name string
	fn   func(ctx context.Context) error
}

// runSlices executes enrichment calls concurrently. Each slice writes to its
// own field of the shared snapshot; a failing slice logs and leaves the zero
// default instead of aborting the fetch.
func runSlices(ctx context.Context, p model.Provider, slices []metricsSlice) {
	var wg sync.WaitGroup
	for _, s := range slices {
		wg.Add(1)
		go func(s metricsSlice) {
			defer wg.Done()
			if err := s.fn(ctx); err != nil {
				log.Warn().
					Err(err).
					Str("provider", p.String()).
					Str("slice", s.name).
					Msg("metrics slice failed, using default")
			}
		}(s)
	}
	wg.Wait()
}

// rateLimitError maps a provider 429 to the shared taxonomy, honoring a
// Retry-After header when present.
func rateLimitError(resp *http.Response) error {
	retryAfter := 60
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			retryAfter = secs
		}
	}
	return apperrors.RateLimited(retryAfter)
}

// engagementRate averages per-post interactions against the audience size,
// as a percentage.
func engagementRate(posts []model.PostStats, followers int64) float64 {
	if len(posts) == 0 || followers <= 0 {
		return 0
	}
	var total int64
	for _, p := range posts {
		total += p.Likes + p.Comments + p.Shares
	}
	avg := float64(total) / float64(len(posts))
	return avg / float64(followers) * 100
}

// peakHoursFromPosts derives activity buckets from when recent content was
// published, weighted by its engagement. Used by providers that expose no
// native audience-online metric.
func peakHoursFromPosts(posts []model.PostStats) []model.HourBucket {
	if len(posts) == 0 {
		return nil
	}
	scores := make(map[int]float64)
	var max float64
	for _, p := range posts {
		weight := float64(p.Likes + p.Comments + p.Shares + 1)
		h := p.PublishedAt.UTC().Hour()
		scores[h] += weight
		if scores[h] > max {
			max = scores[h]
		}
	}
	if max == 0 {
		return nil
	}
	buckets := make([]model.HourBucket, 0, len(scores))
	for h, s := range scores {
		buckets = append(buckets, model.HourBucket{Hour: h, Score: s / max})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Hour < buckets[j].Hour })
	return buckets
}
