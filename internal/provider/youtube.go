package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
)

const (
	youtubeDataBaseURL      = "https://www.googleapis.com/youtube/v3"
	youtubeAnalyticsBaseURL = "https://youtubeanalytics.googleapis.com/v2"
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// YouTube is the one adapter backed by a vendor token client: exchange and
// refresh go through golang.org/x/oauth2, data calls hit the Data and
// Analytics APIs directly.
type YouTube struct {
	oauth *oauth2.Config
	http  *http.Client
}

func NewYouTube(cfg *config.Config) *YouTube {
	return &YouTube{
		oauth: &oauth2.Config{
			ClientID:     cfg.YouTubeClientID,
			ClientSecret: cfg.YouTubeClientSecret,
			RedirectURL:  cfg.OAuthRedirectBase + "/v1/connect/youtube/callback",
			Scopes: []string{
				"https://www.googleapis.com/auth/youtube.readonly",
				"https://www.googleapis.com/auth/yt-analytics.readonly",
			},
			Endpoint: googleEndpoint,
		},
		http: newHTTPClient(),
	}
}

func (y *YouTube) Provider() model.Provider { return model.ProviderYouTube }
func (y *YouTube) RequiresPKCE() bool       { return false }

func (y *YouTube) BuildAuthURL(state, _ string) (string, error) {
	if y.oauth.ClientID == "" {
		return "", fmt.Errorf("youtube client not configured")
	}
	return y.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

func (y *YouTube) ExchangeCode(ctx context.Context, code, _ string) (*Grant, error) {
	tok, err := y.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("youtube", err)
	}

	channel, err := y.ownChannel(ctx, tok.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("youtube", err)
	}

	grant := &Grant{
		ExternalID:  channel.ID,
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry.UTC(),
		Profile: model.ProviderProfile{
			DisplayName: channel.Snippet.Title,
			Bio:         channel.Snippet.Description,
			AvatarURL:   channel.Snippet.Thumbnails.Default.URL,
		},
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		grant.RefreshToken = &rt
	}
	return grant, nil
}

func (y *YouTube) Refresh(ctx context.Context, cred *model.SocialCredential) (*Grant, error) {
	if cred.RefreshToken == nil || *cred.RefreshToken == "" {
		return nil, apperrors.ProviderRefreshFailed("youtube", fmt.Errorf("no refresh token on file"))
	}

	src := y.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: *cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, apperrors.ProviderRefreshFailed("youtube", err)
	}

	grant := &Grant{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry.UTC(),
	}
	// Google only rotates the refresh token occasionally; keep the stored one
	// unless a new value comes back.
	if tok.RefreshToken != "" && tok.RefreshToken != *cred.RefreshToken {
		rt := tok.RefreshToken
		grant.RefreshToken = &rt
	}
	return grant, nil
}

func (y *YouTube) FetchMetrics(ctx context.Context, cred *model.SocialCredential) (*model.NormalizedMetrics, error) {
	channel, err := y.ownChannel(ctx, cred.AccessToken)
	if err != nil {
		return nil, apperrors.External("youtube", err)
	}

	subscribers, _ := strconv.ParseInt(channel.Statistics.SubscriberCount, 10, 64)

	m := &model.NormalizedMetrics{
		Provider:   model.ProviderYouTube,
		ExternalID: channel.ID,
		Followers:  subscribers,
		Profile: model.ProviderProfile{
			DisplayName: channel.Snippet.Title,
			Bio:         channel.Snippet.Description,
			AvatarURL:   channel.Snippet.Thumbnails.Default.URL,
		},
		SyncedAt: time.Now().UTC(),
	}

	runSlices(ctx, model.ProviderYouTube, []metricsSlice{
		{name: "recent_videos", fn: func(ctx context.Context) error {
			videos, err := y.recentVideos(ctx, cred.AccessToken, channel.ID)
			if err != nil {
				return err
			}
			m.RecentPosts = videos
			m.EngagementRate = engagementRate(videos, subscribers)
			m.PeakHours = peakHoursFromPosts(videos)
			return nil
		}},
		{name: "demographics", fn: func(ctx context.Context) error {
			demo, err := y.audienceDemographics(ctx, cred.AccessToken)
			if err != nil {
				return err
			}
			m.Demographics = demo
			return nil
		}},
	})

	return m, nil
}

type youtubeChannel struct {
	ID      string `json:"id"`
	Snippet struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Thumbnails  struct {
			Default struct {
				URL string `json:"url"`
			} `json:"default"`
		} `json:"thumbnails"`
	} `json:"snippet"`
	Statistics struct {
		SubscriberCount string `json:"subscriberCount"`
		VideoCount      string `json:"videoCount"`
		ViewCount       string `json:"viewCount"`
	} `json:"statistics"`
}

func (y *YouTube) ownChannel(ctx context.Context, accessToken string) (*youtubeChannel, error) {
	var out struct {
		Items []youtubeChannel `json:"items"`
	}
	params := url.Values{
		"part": {"snippet,statistics"},
		"mine": {"true"},
	}
	if err := y.apiGet(ctx, youtubeDataBaseURL+"/channels", params, accessToken, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("no channel on authorized account")
	}
	return &out.Items[0], nil
}

func (y *YouTube) recentVideos(ctx context.Context, accessToken, channelID string) ([]model.PostStats, error) {
	var search struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	params := url.Values{
		"part":       {"id"},
		"channelId":  {channelID},
		"order":      {"date"},
		"type":       {"video"},
		"maxResults": {"10"},
	}
	if err := y.apiGet(ctx, youtubeDataBaseURL+"/search", params, accessToken, &search); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(search.Items))
	for _, it := range search.Items {
		if it.ID.VideoID != "" {
			ids = append(ids, it.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var videos struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title       string    `json:"title"`
				PublishedAt time.Time `json:"publishedAt"`
			} `json:"snippet"`
			Statistics struct {
				ViewCount    string `json:"viewCount"`
				LikeCount    string `json:"likeCount"`
				CommentCount string `json:"commentCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	params = url.Values{
		"part": {"snippet,statistics"},
		"id":   {strings.Join(ids, ",")},
	}
	if err := y.apiGet(ctx, youtubeDataBaseURL+"/videos", params, accessToken, &videos); err != nil {
		return nil, err
	}

	posts := make([]model.PostStats, 0, len(videos.Items))
	for _, v := range videos.Items {
		views, _ := strconv.ParseInt(v.Statistics.ViewCount, 10, 64)
		likes, _ := strconv.ParseInt(v.Statistics.LikeCount, 10, 64)
		comments, _ := strconv.ParseInt(v.Statistics.CommentCount, 10, 64)
		posts = append(posts, model.PostStats{
			ID:          v.ID,
			Title:       v.Snippet.Title,
			Views:       views,
			Likes:       likes,
			Comments:    comments,
			PublishedAt: v.Snippet.PublishedAt,
		})
	}
	return posts, nil
}

func (y *YouTube) audienceDemographics(ctx context.Context, accessToken string) (model.Demographics, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)

	var out struct {
		Rows [][]any `json:"rows"`
	}
	params := url.Values{
		"ids":        {"channel==MINE"},
		"startDate":  {start.Format("2006-01-02")},
		"endDate":    {end.Format("2006-01-02")},
		"metrics":    {"viewerPercentage"},
		"dimensions": {"ageGroup,gender"},
	}
	if err := y.apiGet(ctx, youtubeAnalyticsBaseURL+"/reports", params, accessToken, &out); err != nil {
		return model.Demographics{}, err
	}

	demo := model.Demographics{
		AgeBuckets:  map[string]float64{},
		GenderSplit: map[string]float64{},
	}
	for _, row := range out.Rows {
		if len(row) < 3 {
			continue
		}
		age, _ := row[0].(string)
		gender, _ := row[1].(string)
		pct, _ := row[2].(float64)
		demo.AgeBuckets[strings.TrimPrefix(age, "age")] += pct
		demo.GenderSplit[gender] += pct
	}
	return demo, nil
}

func (y *YouTube) apiGet(ctx context.Context, endpoint string, params url.Values, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := y.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read youtube response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return rateLimitError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube api %s returned %d: %s", endpoint, resp.StatusCode, truncate(body, 200))
	}
	return json.Unmarshal(body, out)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
