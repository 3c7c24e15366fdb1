package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
)

// Instagram rides the same Graph protocol as Facebook: the handshake goes
// through the Facebook dialog, and the connected account is the Instagram
// business account attached to one of the user's pages.
type Instagram struct {
	appID       string
	appSecret   string
	redirectURI string
	graph       *graphClient
}

func NewInstagram(cfg *config.Config) *Instagram {
	return &Instagram{
		appID:       cfg.InstagramAppID,
		appSecret:   cfg.InstagramAppSecret,
		redirectURI: cfg.OAuthRedirectBase + "/v1/connect/instagram/callback",
		graph:       newGraphClient(),
	}
}

func (ig *Instagram) Provider() model.Provider { return model.ProviderInstagram }
func (ig *Instagram) RequiresPKCE() bool       { return false }

func (ig *Instagram) BuildAuthURL(state, _ string) (string, error) {
	if ig.appID == "" {
		return "", fmt.Errorf("instagram app not configured")
	}
	params := url.Values{
		"client_id":     {ig.appID},
		"redirect_uri":  {ig.redirectURI},
		"response_type": {"code"},
		"scope":         {"instagram_basic,instagram_manage_insights,pages_show_list"},
		"state":         {state},
	}
	return facebookAuthURL + "?" + params.Encode(), nil
}

func (ig *Instagram) ExchangeCode(ctx context.Context, code, _ string) (*Grant, error) {
	short, err := ig.graph.exchangeCode(ctx, ig.appID, ig.appSecret, ig.redirectURI, code)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("instagram", err)
	}

	long, err := ig.graph.exchangeLongLived(ctx, ig.appID, ig.appSecret, short.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("instagram", err)
	}

	page, igAccountID, err := ig.resolveBusinessAccount(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}

	profile, err := ig.accountProfile(ctx, igAccountID, page.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("instagram", err)
	}

	pageID := page.ID
	pageToken := page.AccessToken
	return &Grant{
		ExternalID:  igAccountID,
		AccessToken: long.AccessToken,
		PageID:      &pageID,
		PageToken:   &pageToken,
		ExpiresAt:   long.expiry(time.Now()),
		Profile:     profile,
	}, nil
}

func (ig *Instagram) Refresh(ctx context.Context, cred *model.SocialCredential) (*Grant, error) {
	long, err := ig.graph.exchangeLongLived(ctx, ig.appID, ig.appSecret, cred.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderRefreshFailed("instagram", err)
	}

	page, _, err := ig.resolveBusinessAccount(ctx, long.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderRefreshFailed("instagram", err)
	}

	pageToken := page.AccessToken
	return &Grant{
		AccessToken: long.AccessToken,
		PageToken:   &pageToken,
		ExpiresAt:   long.expiry(time.Now()),
	}, nil
}

// resolveBusinessAccount finds the first managed page with an attached
// Instagram business account. Absence is terminal: the user must convert
// their account before reconnecting.
func (ig *Instagram) resolveBusinessAccount(ctx context.Context, userToken string) (*graphPage, string, error) {
	pages, err := ig.graph.pages(ctx, userToken)
	if err != nil {
		return nil, "", apperrors.ProviderExchangeFailed("instagram", err)
	}
	for i := range pages {
		if pages[i].Instagram != nil && pages[i].Instagram.ID != "" {
			return &pages[i], pages[i].Instagram.ID, nil
		}
	}
	return nil, "", apperrors.NoPageFound("instagram")
}

func (ig *Instagram) accountProfile(ctx context.Context, igAccountID, pageToken string) (model.ProviderProfile, error) {
	var account struct {
		Username          string `json:"username"`
		Biography         string `json:"biography"`
		ProfilePictureURL string `json:"profile_picture_url"`
	}
	err := ig.graph.get(ctx, "/"+igAccountID, url.Values{
		"fields": {"username,biography,profile_picture_url"},
	}, pageToken, &account)
	if err != nil {
		return model.ProviderProfile{}, err
	}
	return model.ProviderProfile{
		DisplayName: account.Username,
		Bio:         account.Biography,
		AvatarURL:   account.ProfilePictureURL,
	}, nil
}

func (ig *Instagram) FetchMetrics(ctx context.Context, cred *model.SocialCredential) (*model.NormalizedMetrics, error) {
	if cred.PageToken == nil {
		return nil, apperrors.NotConnected("instagram")
	}
	igID, pageToken := cred.ExternalID, *cred.PageToken

	var account struct {
		Username          string `json:"username"`
		Biography         string `json:"biography"`
		FollowersCount    int64  `json:"followers_count"`
		MediaCount        int64  `json:"media_count"`
		ProfilePictureURL string `json:"profile_picture_url"`
	}
	err := ig.graph.get(ctx, "/"+igID, url.Values{
		"fields": {"username,biography,followers_count,media_count,profile_picture_url"},
	}, pageToken, &account)
	if err != nil {
		return nil, apperrors.External("instagram", err)
	}

	m := &model.NormalizedMetrics{
		Provider:   model.ProviderInstagram,
		ExternalID: igID,
		Followers:  account.FollowersCount,
		Profile: model.ProviderProfile{
			DisplayName: account.Username,
			Bio:         account.Biography,
			AvatarURL:   account.ProfilePictureURL,
		},
		SyncedAt: time.Now().UTC(),
	}

	runSlices(ctx, model.ProviderInstagram, []metricsSlice{
		{name: "recent_media", fn: func(ctx context.Context) error {
			posts, err := ig.recentMedia(ctx, igID, pageToken)
			if err != nil {
				return err
			}
			m.RecentPosts = posts
			m.EngagementRate = engagementRate(posts, account.FollowersCount)
			return nil
		}},
		{name: "demographics", fn: func(ctx context.Context) error {
			demo, err := ig.audienceDemographics(ctx, igID, pageToken)
			if err != nil {
				return err
			}
			m.Demographics = demo
			return nil
		}},
		{name: "peak_hours", fn: func(ctx context.Context) error {
			hours, err := ig.onlineFollowers(ctx, igID, pageToken)
			if err != nil {
				return err
			}
			m.PeakHours = hours
			return nil
		}},
	})

	return m, nil
}

func (ig *Instagram) recentMedia(ctx context.Context, igID, pageToken string) ([]model.PostStats, error) {
	var out struct {
		Data []struct {
			ID            string    `json:"id"`
			Caption       string    `json:"caption"`
			LikeCount     int64     `json:"like_count"`
			CommentsCount int64     `json:"comments_count"`
			Timestamp     time.Time `json:"timestamp"`
		} `json:"data"`
	}
	err := ig.graph.get(ctx, "/"+igID+"/media", url.Values{
		"fields": {"id,caption,like_count,comments_count,timestamp"},
		"limit":  {"10"},
	}, pageToken, &out)
	if err != nil {
		return nil, err
	}

	posts := make([]model.PostStats, 0, len(out.Data))
	for _, p := range out.Data {
		posts = append(posts, model.PostStats{
			ID:          p.ID,
			Title:       firstLine(p.Caption),
			Likes:       p.LikeCount,
			Comments:    p.CommentsCount,
			PublishedAt: p.Timestamp,
		})
	}
	return posts, nil
}

func (ig *Instagram) audienceDemographics(ctx context.Context, igID, pageToken string) (model.Demographics, error) {
	var out graphInsights
	err := ig.graph.get(ctx, "/"+igID+"/insights", url.Values{
		"metric": {"audience_gender_age,audience_country"},
		"period": {"lifetime"},
	}, pageToken, &out)
	if err != nil {
		return model.Demographics{}, err
	}

	return demographicsFromInsights(&out, "audience_gender_age", "audience_country"), nil
}

func (ig *Instagram) onlineFollowers(ctx context.Context, igID, pageToken string) ([]model.HourBucket, error) {
	var out graphInsights
	err := ig.graph.get(ctx, "/"+igID+"/insights", url.Values{
		"metric": {"online_followers"},
		"period": {"lifetime"},
	}, pageToken, &out)
	if err != nil {
		return nil, err
	}
	return hourBucketsFromInsight(&out), nil
}
