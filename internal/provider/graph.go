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

	"github.com/loopreach/social-sync/internal/model"
)

const (
	graphBaseURL    = "https://graph.facebook.com/v19.0"
	facebookAuthURL = "https://www.facebook.com/v19.0/dialog/oauth"

	// Long-lived Graph tokens last about 60 days; used when the token
	// response omits expires_in.
	graphDefaultTokenLifetime = 60 * 24 * time.Hour
)

// graphClient is the shared HTTP layer for the two Graph API providers.
// Instagram business accounts hang off Facebook pages, so both adapters
// speak the same protocol: plain GETs with an access_token parameter and a
// structured error envelope.
type graphClient struct {
	http    *http.Client
	baseURL string
}

func newGraphClient() *graphClient {
	return &graphClient{http: newHTTPClient(), baseURL: graphBaseURL}
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *graphError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// Graph error codes signalling throttling.
func (e *graphError) rateLimited() bool {
	switch e.Code {
	case 4, 17, 32, 613:
		return true
	}
	return false
}

func (g *graphClient) get(ctx context.Context, path string, params url.Values, accessToken string, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if accessToken != "" {
		params.Set("access_token", accessToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read graph response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return rateLimitError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error *graphError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			if envelope.Error.rateLimited() {
				return rateLimitError(resp)
			}
			return envelope.Error
		}
		return fmt.Errorf("graph api %s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}

	return json.Unmarshal(body, out)
}

type graphTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (t *graphTokenResponse) expiry(now time.Time) time.Time {
	if t.ExpiresIn > 0 {
		return now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return now.Add(graphDefaultTokenLifetime).UTC()
}

// exchangeCode swaps an authorization code for a short-lived user token.
func (g *graphClient) exchangeCode(ctx context.Context, clientID, clientSecret, redirectURI, code string) (*graphTokenResponse, error) {
	var tok graphTokenResponse
	err := g.get(ctx, "/oauth/access_token", url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}, "", &tok)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// exchangeLongLived swaps any user token for a ~60 day one. This replaces a
// refresh token for the Graph providers: refreshing means re-exchanging the
// current token before it lapses.
func (g *graphClient) exchangeLongLived(ctx context.Context, clientID, clientSecret, token string) (*graphTokenResponse, error) {
	var tok graphTokenResponse
	err := g.get(ctx, "/oauth/access_token", url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {clientID},
		"client_secret":     {clientSecret},
		"fb_exchange_token": {token},
	}, "", &tok)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

type graphPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Instagram   *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account"`
}

// pages lists the pages the user token can manage, including each page's own
// page-scoped access token.
func (g *graphClient) pages(ctx context.Context, userToken string) ([]graphPage, error) {
	var out struct {
		Data []graphPage `json:"data"`
	}
	err := g.get(ctx, "/me/accounts", url.Values{
		"fields": {"id,name,access_token,instagram_business_account"},
	}, userToken, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

type graphInsights struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value any `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

// latestValues returns the most recent value map for one metric name.
func (gi *graphInsights) latestValues(name string) map[string]any {
	for _, metric := range gi.Data {
		if metric.Name != name || len(metric.Values) == 0 {
			continue
		}
		if m, ok := metric.Values[len(metric.Values)-1].Value.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// demographicsFromInsights maps the Graph gender-age ("F.25-34" keyed counts)
// and country breakdowns into percentage maps. Both page and Instagram
// account insights use the same key shape.
func demographicsFromInsights(out *graphInsights, genderAgeMetric, countryMetric string) model.Demographics {
	demo := model.Demographics{
		AgeBuckets:   map[string]float64{},
		GenderSplit:  map[string]float64{},
		TopCountries: map[string]float64{},
	}

	genderAge := out.latestValues(genderAgeMetric)
	var total float64
	for _, v := range genderAge {
		if n, ok := v.(float64); ok {
			total += n
		}
	}
	for key, v := range genderAge {
		n, ok := v.(float64)
		if !ok || total == 0 {
			continue
		}
		i := strings.IndexByte(key, '.')
		if i < 0 {
			continue
		}
		pct := n / total * 100
		demo.GenderSplit[key[:i]] += pct
		demo.AgeBuckets[key[i+1:]] += pct
	}

	for key, v := range out.latestValues(countryMetric) {
		if n, ok := v.(float64); ok {
			demo.TopCountries[key] = n
		}
	}
	return demo
}

// hourBucketsFromInsight maps an hour-keyed insight value into normalized
// activity buckets.
func hourBucketsFromInsight(out *graphInsights) []model.HourBucket {
	scores := make(map[int]float64)
	var max float64
	for _, metric := range out.Data {
		for _, v := range metric.Values {
			byHour, ok := v.Value.(map[string]any)
			if !ok {
				continue
			}
			for k, raw := range byHour {
				h, err := strconv.Atoi(k)
				if err != nil || h < 0 || h > 23 {
					continue
				}
				n, ok := raw.(float64)
				if !ok {
					continue
				}
				scores[h] += n
				if scores[h] > max {
					max = scores[h]
				}
			}
		}
	}
	if max == 0 {
		return nil
	}
	buckets := make([]model.HourBucket, 0, len(scores))
	for h := 0; h < 24; h++ {
		if s, ok := scores[h]; ok {
			buckets = append(buckets, model.HourBucket{Hour: h, Score: s / max})
		}
	}
	return buckets
}
