package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
)

// Facebook connects a user's page via the Graph API. There is no refresh
// token: the long-lived user token is re-exchanged before expiry and the
// page-scoped token re-resolved alongside it.
type Facebook struct {
	appID       string
	appSecret   string
	redirectURI string
	graph       *graphClient
}

func NewFacebook(cfg *config.Config) *Facebook {
	return &Facebook{
		appID:       cfg.FacebookAppID,
		appSecret:   cfg.FacebookAppSecret,
		redirectURI: cfg.OAuthRedirectBase + "/v1/connect/facebook/callback",
		graph:       newGraphClient(),
	}
}

func (f *Facebook) Provider() model.Provider { return model.ProviderFacebook }
func (f *Facebook) RequiresPKCE() bool       { return false }

func (f *Facebook) BuildAuthURL(state, _ string) (string, error) {
	if f.appID == "" {
		return "", fmt.Errorf("facebook app not configured")
	}
	params := url.Values{
		"client_id":     {f.appID},
		"redirect_uri":  {f.redirectURI},
		"response_type": {"code"},
		"scope":         {"public_profile,pages_show_list,pages_read_engagement,read_insights"},
		"state":         {state},
	}
	return facebookAuthURL + "?" + params.Encode(), nil
}

func (f *Facebook) ExchangeCode(ctx context.Context, code, _ string) (*Grant, error) {
	short, err := f.graph.exchangeCode(ctx, f.appID, f.appSecret, f.redirectURI, code)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("facebook", err)
	}

	long, err := f.graph.exchangeLongLived(ctx, f.appID, f.appSecret, short.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("facebook", err)
	}

	page, err := f.resolvePage(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}

	profile, err := f.userProfile(ctx, long.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("facebook", err)
	}

	pageID := page.ID
	pageToken := page.AccessToken
	return &Grant{
		ExternalID:  page.ID,
		AccessToken: long.AccessToken,
		PageID:      &pageID,
		PageToken:   &pageToken,
		ExpiresAt:   long.expiry(time.Now()),
		Profile:     profile,
	}, nil
}

func (f *Facebook) Refresh(ctx context.Context, cred *model.SocialCredential) (*Grant, error) {
	long, err := f.graph.exchangeLongLived(ctx, f.appID, f.appSecret, cred.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderRefreshFailed("facebook", err)
	}

	// The page token is a distinct credential with its own validity; refresh
	// it together with the user token.
	page, err := f.resolvePage(ctx, long.AccessToken)
	if err != nil {
		return nil, apperrors.ProviderRefreshFailed("facebook", err)
	}

	pageToken := page.AccessToken
	return &Grant{
		AccessToken: long.AccessToken,
		PageToken:   &pageToken,
		ExpiresAt:   long.expiry(time.Now()),
	}, nil
}

func (f *Facebook) resolvePage(ctx context.Context, userToken string) (*graphPage, error) {
	pages, err := f.graph.pages(ctx, userToken)
	if err != nil {
		return nil, apperrors.ProviderExchangeFailed("facebook", err)
	}
	for i := range pages {
		if pages[i].AccessToken != "" {
			return &pages[i], nil
		}
	}
	return nil, apperrors.NoPageFound("facebook")
}

func (f *Facebook) userProfile(ctx context.Context, userToken string) (model.ProviderProfile, error) {
	var me struct {
		Name    string `json:"name"`
		About   string `json:"about"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	err := f.graph.get(ctx, "/me", url.Values{
		"fields": {"name,about,picture{url}"},
	}, userToken, &me)
	if err != nil {
		return model.ProviderProfile{}, err
	}
	return model.ProviderProfile{
		DisplayName: me.Name,
		Bio:         me.About,
		AvatarURL:   me.Picture.Data.URL,
	}, nil
}

func (f *Facebook) FetchMetrics(ctx context.Context, cred *model.SocialCredential) (*model.NormalizedMetrics, error) {
	if cred.PageID == nil || cred.PageToken == nil {
		return nil, apperrors.NotConnected("facebook")
	}
	pageID, pageToken := *cred.PageID, *cred.PageToken

	var page struct {
		Name     string `json:"name"`
		About    string `json:"about"`
		Category string `json:"category"`
		FanCount int64  `json:"fan_count"`
		Picture  struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	err := f.graph.get(ctx, "/"+pageID, url.Values{
		"fields": {"name,about,category,fan_count,picture{url}"},
	}, pageToken, &page)
	if err != nil {
		return nil, apperrors.External("facebook", err)
	}

	m := &model.NormalizedMetrics{
		Provider:   model.ProviderFacebook,
		ExternalID: pageID,
		Followers:  page.FanCount,
		Profile: model.ProviderProfile{
			DisplayName: page.Name,
			Bio:         page.About,
			AvatarURL:   page.Picture.Data.URL,
			Niche:       page.Category,
		},
		SyncedAt: time.Now().UTC(),
	}

	runSlices(ctx, model.ProviderFacebook, []metricsSlice{
		{name: "recent_posts", fn: func(ctx context.Context) error {
			posts, err := f.recentPosts(ctx, pageID, pageToken)
			if err != nil {
				return err
			}
			m.RecentPosts = posts
			m.EngagementRate = engagementRate(posts, page.FanCount)
			return nil
		}},
		{name: "demographics", fn: func(ctx context.Context) error {
			demo, err := f.audienceDemographics(ctx, pageID, pageToken)
			if err != nil {
				return err
			}
			m.Demographics = demo
			return nil
		}},
		{name: "peak_hours", fn: func(ctx context.Context) error {
			hours, err := f.fansOnline(ctx, pageID, pageToken)
			if err != nil {
				return err
			}
			m.PeakHours = hours
			return nil
		}},
	})

	return m, nil
}

func (f *Facebook) recentPosts(ctx context.Context, pageID, pageToken string) ([]model.PostStats, error) {
	var out struct {
		Data []struct {
			ID          string    `json:"id"`
			Message     string    `json:"message"`
			CreatedTime time.Time `json:"created_time"`
			Likes       struct {
				Summary struct {
					TotalCount int64 `json:"total_count"`
				} `json:"summary"`
			} `json:"likes"`
			Comments struct {
				Summary struct {
					TotalCount int64 `json:"total_count"`
				} `json:"summary"`
			} `json:"comments"`
			Shares struct {
				Count int64 `json:"count"`
			} `json:"shares"`
		} `json:"data"`
	}
	err := f.graph.get(ctx, "/"+pageID+"/posts", url.Values{
		"fields": {"id,message,created_time,likes.summary(true),comments.summary(true),shares"},
		"limit":  {"10"},
	}, pageToken, &out)
	if err != nil {
		return nil, err
	}

	posts := make([]model.PostStats, 0, len(out.Data))
	for _, p := range out.Data {
		posts = append(posts, model.PostStats{
			ID:          p.ID,
			Title:       firstLine(p.Message),
			Likes:       p.Likes.Summary.TotalCount,
			Comments:    p.Comments.Summary.TotalCount,
			Shares:      p.Shares.Count,
			PublishedAt: p.CreatedTime,
		})
	}
	return posts, nil
}

func (f *Facebook) audienceDemographics(ctx context.Context, pageID, pageToken string) (model.Demographics, error) {
	var out graphInsights
	err := f.graph.get(ctx, "/"+pageID+"/insights", url.Values{
		"metric": {"page_fans_gender_age,page_fans_country"},
		"period": {"lifetime"},
	}, pageToken, &out)
	if err != nil {
		return model.Demographics{}, err
	}
	return demographicsFromInsights(&out, "page_fans_gender_age", "page_fans_country"), nil
}

func (f *Facebook) fansOnline(ctx context.Context, pageID, pageToken string) ([]model.HourBucket, error) {
	var out graphInsights
	err := f.graph.get(ctx, "/"+pageID+"/insights", url.Values{
		"metric": {"page_fans_online"},
		"period": {"week"},
	}, pageToken, &out)
	if err != nil {
		return nil, err
	}
	return hourBucketsFromInsight(&out), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
