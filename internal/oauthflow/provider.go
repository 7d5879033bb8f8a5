// Package oauthflow implements the OAuth2 authorization-code lifecycle for
// the connected marketing platforms: authorization URL construction, CSRF
// state handling, code exchange, token refresh and agency-to-account token
// delegation.
package oauthflow

import (
	"fmt"

	"integration-gateway/internal/config"
)

// ProviderConfig describes one platform's OAuth2 endpoints and flow quirks.
type ProviderConfig struct {
	// Platform is the platform identifier this provider serves
	Platform string
	// ClientID is the OAuth2 client identifier registered with the provider
	ClientID string
	// ClientSecret is the OAuth2 client secret for authentication
	ClientSecret string
	// AuthURL is the authorization endpoint the user is redirected to
	AuthURL string
	// TokenURL is the token endpoint for code exchange and refresh
	TokenURL string
	// DelegationURL is the endpoint that mints account-scoped tokens from an
	// agency credential (empty when the platform has no delegation)
	DelegationURL string
	// BaseURL is the platform API root used by the gateway client
	BaseURL string
	// RedirectURL is the gateway's OAuth callback URL
	RedirectURL string
	// Scopes are the permissions requested during authorization
	Scopes []string
	// UsePKCE enables the PKCE S256 extension on the authorization flow
	UsePKCE bool
	// OfflineAccess adds access_type=offline&prompt=consent so the provider
	// issues a refresh token on first authorization
	OfflineAccess bool
}

// providerDefaults returns the built-in endpoint set per platform. Config
// overrides replace individual fields, mainly so tests can point at fakes.
func providerDefaults(platform string) (ProviderConfig, error) {
	switch platform {
	case config.PlatformCRM:
		return ProviderConfig{
			Platform:      platform,
			AuthURL:       "https://marketplace.crmconnect.io/oauth/authorize",
			TokenURL:      "https://services.crmconnect.io/oauth/token",
			DelegationURL: "https://services.crmconnect.io/oauth/locationToken",
			BaseURL:       "https://services.crmconnect.io",
			Scopes:        []string{"contacts.readonly", "opportunities.readonly", "calendars.readonly"},
			UsePKCE:       true,
		}, nil
	case config.PlatformAdsGoogle:
		return ProviderConfig{
			Platform:      platform,
			AuthURL:       "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:      "https://oauth2.googleapis.com/token",
			BaseURL:       "https://googleads.googleapis.com/v16",
			Scopes:        []string{"https://www.googleapis.com/auth/adwords"},
			UsePKCE:       true,
			OfflineAccess: true,
		}, nil
	case config.PlatformAdsMeta:
		return ProviderConfig{
			Platform: platform,
			AuthURL:  "https://www.facebook.com/v19.0/dialog/oauth",
			TokenURL: "https://graph.facebook.com/v19.0/oauth/access_token",
			BaseURL:  "https://graph.facebook.com/v19.0",
			Scopes:   []string{"ads_read", "read_insights"},
		}, nil
	default:
		return ProviderConfig{}, fmt.Errorf("unknown platform: %s", platform)
	}
}

// BuildProviders assembles the provider table from configuration, skipping
// platforms without client credentials.
func BuildProviders(cfg *config.Config) (map[string]ProviderConfig, error) {
	providers := make(map[string]ProviderConfig)

	for _, name := range cfg.EnabledPlatforms() {
		platformCfg := cfg.Platforms[name]

		provider, err := providerDefaults(name)
		if err != nil {
			return nil, err
		}

		provider.ClientID = platformCfg.ClientID
		provider.ClientSecret = platformCfg.ClientSecret
		provider.RedirectURL = cfg.RedirectURL()

		if platformCfg.AuthURL != "" {
			provider.AuthURL = platformCfg.AuthURL
		}
		if platformCfg.TokenURL != "" {
			provider.TokenURL = platformCfg.TokenURL
		}
		if platformCfg.BaseURL != "" {
			provider.BaseURL = platformCfg.BaseURL
		}

		providers[name] = provider
	}

	return providers, nil
}
