package model

import "fmt"

// Provider identifies one of the supported social platforms.
type Provider string

const (
	ProviderYouTube   Provider = "youtube"
	ProviderInstagram Provider = "instagram"
	ProviderTwitter   Provider = "twitter"
	ProviderFacebook  Provider = "facebook"
)

// Providers lists all supported providers in a stable order.
var Providers = []Provider{
	ProviderYouTube,
	ProviderInstagram,
	ProviderTwitter,
	ProviderFacebook,
}

// ParseProvider validates a provider name from an external source (URL
// parameter, config) and returns the typed value.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderYouTube, ProviderInstagram, ProviderTwitter, ProviderFacebook:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider: %q", s)
}

// UsesPageToken reports whether the provider carries a secondary page-scoped
// credential alongside the user token.
func (p Provider) UsesPageToken() bool {
	return p == ProviderInstagram || p == ProviderFacebook
}

// UsesRefreshToken reports whether the provider rotates tokens via a refresh
// token. Instagram and Facebook instead re-exchange the long-lived token.
func (p Provider) UsesRefreshToken() bool {
	return p == ProviderYouTube || p == ProviderTwitter
}

func (p Provider) String() string {
	return string(p)
}
