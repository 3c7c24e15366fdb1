package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/util"
)

const (
	twitterAuthURL  = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL = "https://api.twitter.com/2/oauth2/token"
	twitterAPIURL   = "https://api.twitter.com/2"

	// Twitter access tokens last two hours; used when expires_in is absent.
	twitterDefaultTokenLifetime = 2 * time.Hour
)

// Twitter uses OAuth2 with PKCE (S256). Refresh tokens rotate on every
// refresh, so the new one must always be persisted.
type Twitter struct {
	clientID     string
	clientSecret string
	redirectURI  string
	http         *http.Client
}

func NewTwitter(cfg *config.Config) *Twitter {
	return &Twitter{
		clientID:     cfg.TwitterClientID,
		clientSecret: cfg.TwitterClientSecret,
		redirectURI:  cfg.OAuthRedirectBase + "/v1/connect/twitter/callback",
		http:         newHTTPClient(),
	}
}

func (t *Twitter) Provider() model.Provider { return model.ProviderTwitter }
func (t *Twitter) RequiresPKCE() bool       { return true }

func (t *Twitter) BuildAuthURL(state, codeVerifier string) (string, error) {
	if t.clientID == "" {
		return "", fmt.Errorf("twitter client not configured")
	}
	if codeVerifier == "" {
		return "", fmt.Errorf("code verifier required for twitter auth")
	}

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {t.clientID},
		"redirect_uri":          {t.redirectURI},
		"scope":                 {"users.read tweet.read offline.access"},
		"state":                 {state},
		"code_challenge":        {util.CodeChallenge(codeVerifier)},
		"code_challenge_method": {"S256"},
	}
	return twitterAuthURL + "?" + params.Encode(), nil
}

func (t *Twitter) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Grant, error) {
	if codeVerifier == "" {
		return nil, apperrors.ProviderExchangeFailed("twitter", fmt.Errorf("code verifier missing"))
	}

	tok, err := t.tokenRequest(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {t.redirectURI},
		"client_id":     {t.clientID},
		"code_verifier": {codeVerifier},
	})
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("twitter", err)
	}

	user, err := t.me(ctx, tok.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("twitter", err)
	}

	grant := &Grant{
		ExternalID:  user.ID,
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.expiry(time.Now()),
		Profile: model.ProviderProfile{
			DisplayName: user.Name,
			Bio:         user.Description,
			AvatarURL:   user.ProfileImageURL,
		},
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		grant.RefreshToken = &rt
	}
	return grant, nil
}

func (t *Twitter) Refresh(ctx context.Context, cred *model.SocialCredential) (*Grant, error) {
	if cred.RefreshToken == nil || *cred.RefreshToken == "" {
		return nil, apperrors.ProviderRefreshFailed("twitter", fmt.Errorf("no refresh token on file"))
	}

	tok, err := t.tokenRequest(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {*cred.RefreshToken},
		"client_id":     {t.clientID},
	})
	if err != nil {
		return nil, apperrors.ProviderRefreshFailed("twitter", err)
	}

	grant := &Grant{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.expiry(time.Now()),
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		grant.RefreshToken = &rt
	}
	return grant, nil
}

func (t *Twitter) FetchMetrics(ctx context.Context, cred *model.SocialCredential) (*model.NormalizedMetrics, error) {
	user, err := t.me(ctx, cred.AccessToken)
	if err != nil {
		return nil, apperrors.External("twitter", err)
	}

	m := &model.NormalizedMetrics{
		Provider:   model.ProviderTwitter,
		ExternalID: user.ID,
		Followers:  user.PublicMetrics.Followers,
		Profile: model.ProviderProfile{
			DisplayName: user.Name,
			Bio:         user.Description,
			AvatarURL:   user.ProfileImageURL,
		},
		SyncedAt: time.Now().UTC(),
	}

	// Twitter exposes no audience demographics; that slice keeps its zero
	// default.
	runSlices(ctx, model.ProviderTwitter, []metricsSlice{
		{name: "recent_tweets", fn: func(ctx context.Context) error {
			tweets, err := t.recentTweets(ctx, cred.AccessToken, user.ID)
			if err != nil {
				return err
			}
			m.RecentPosts = tweets
			m.EngagementRate = engagementRate(tweets, user.PublicMetrics.Followers)
			m.PeakHours = peakHoursFromPosts(tweets)
			return nil
		}},
	})

	return m, nil
}

type twitterTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (tr *twitterTokenResponse) expiry(now time.Time) time.Time {
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	}
	return now.Add(twitterDefaultTokenLifetime).UTC()
}

func (t *Twitter) tokenRequest(ctx context.Context, data url.Values) (*twitterTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twitterTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.clientID, t.clientSecret)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read twitter token response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitter token endpoint returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var tok twitterTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

type twitterUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url"`
	PublicMetrics   struct {
		Followers int64 `json:"followers_count"`
		Following int64 `json:"following_count"`
		Tweets    int64 `json:"tweet_count"`
	} `json:"public_metrics"`
}

func (t *Twitter) me(ctx context.Context, accessToken string) (*twitterUser, error) {
	var out struct {
		Data twitterUser `json:"data"`
	}
	err := t.apiGet(ctx, "/users/me", url.Values{
		"user.fields": {"public_metrics,profile_image_url,description"},
	}, accessToken, &out)
	if err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (t *Twitter) recentTweets(ctx context.Context, accessToken, userID string) ([]model.PostStats, error) {
	start := time.Now().UTC().AddDate(0, -1, 0)

	var out struct {
		Data []struct {
			ID            string    `json:"id"`
			Text          string    `json:"text"`
			CreatedAt     time.Time `json:"created_at"`
			PublicMetrics struct {
				Retweets    int64 `json:"retweet_count"`
				Replies     int64 `json:"reply_count"`
				Likes       int64 `json:"like_count"`
				Quotes      int64 `json:"quote_count"`
				Impressions int64 `json:"impression_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	err := t.apiGet(ctx, "/users/"+userID+"/tweets", url.Values{
		"max_results":  {"10"},
		"start_time":   {start.Format(time.RFC3339)},
		"tweet.fields": {"public_metrics,created_at"},
	}, accessToken, &out)
	if err != nil {
		return nil, err
	}

	tweets := make([]model.PostStats, 0, len(out.Data))
	for _, tw := range out.Data {
		tweets = append(tweets, model.PostStats{
			ID:          tw.ID,
			Title:       firstLine(tw.Text),
			Views:       tw.PublicMetrics.Impressions,
			Likes:       tw.PublicMetrics.Likes,
			Comments:    tw.PublicMetrics.Replies,
			Shares:      tw.PublicMetrics.Retweets + tw.PublicMetrics.Quotes,
			PublishedAt: tw.CreatedAt,
		})
	}
	return tweets, nil
}

func (t *Twitter) apiGet(ctx context.Context, path string, params url.Values, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, twitterAPIURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read twitter response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return rateLimitError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twitter api %s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
	return json.Unmarshal(body, out)
}
