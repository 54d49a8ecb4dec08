package core

import (
	"fmt"
	"sort"
	"strings"
)

const (
	DefaultTokenURL         = "https://id.twitch.tv/oauth2/token"
	DefaultValidateURL      = "https://id.twitch.tv/oauth2/validate"
	DefaultRevokeURL        = "https://id.twitch.tv/oauth2/revoke"
	DefaultHubURL           = "https://api.twitch.tv/helix/webhooks/hub"
	DefaultSubscriptionsURL = "https://api.twitch.tv/helix/webhooks/subscriptions"
	DefaultUsersURL         = "https://api.twitch.tv/helix/users"
)

const DefaultLeaseSeconds = 864000

// EndpointsConfig carries the remote endpoint templates. They are
// configuration data, not protocol logic: deployments substitute them to
// point the listener at a different identity service or hub.
type EndpointsConfig struct {
	TokenURL         string `koanf:"token_url" env:"TOKEN_URL"`
	ValidateURL      string `koanf:"validate_url" env:"VALIDATE_URL"`
	RevokeURL        string `koanf:"revoke_url" env:"REVOKE_URL"`
	HubURL           string `koanf:"hub_url" env:"HUB_URL"`
	SubscriptionsURL string `koanf:"subscriptions_url" env:"SUBSCRIPTIONS_URL"`
	UsersURL         string `koanf:"users_url" env:"USERS_URL"`
}

// Config is the validated configuration surface the listener is built from.
// Required fields fail fast at construction; optional fields degrade with a
// logged warning only.
type Config struct {
	Username     string `koanf:"username" env:"TWITCH_USERNAME"`
	ClientID     string `koanf:"client_id" env:"CLIENT_ID"`
	ClientSecret string `koanf:"client_secret" env:"CLIENT_SECRET"`
	HubSecret    string `koanf:"hub_secret" env:"HUB_SECRET"`
	CallbackURL  string `koanf:"callback_url" env:"WEBHOOK_CALLBACK"`
	TokenPath    string `koanf:"token_path" env:"TOKEN_PATH"`
	Port         int    `koanf:"port" env:"PORT"`
	Production   bool   `koanf:"production" env:"PRODUCTION"`

	// LeaseSeconds is the hub.lease_seconds requested on subscribe. The
	// listener never renews before expiry; subscriptions lapse silently
	// once the lease runs out.
	LeaseSeconds int `koanf:"lease_seconds" env:"WEBHOOK_DURATION"`

	// Scopes is the scope list requested on the client-credential grant.
	// Scope is configuration, not protocol.
	Scopes []string `koanf:"scopes" env:"TOKEN_SCOPES"`

	Endpoints EndpointsConfig `koanf:"endpoints" envPrefix:"TWITCH_"`

	// Topics maps a topic name to its hub topic URL template. The subject
	// query fragment is appended per call.
	Topics map[string]string `koanf:"topics"`
}

func DefaultConfig() Config {
	return Config{
		LeaseSeconds: DefaultLeaseSeconds,
		Scopes:       []string{"openid"},
		Endpoints: EndpointsConfig{
			TokenURL:         DefaultTokenURL,
			ValidateURL:      DefaultValidateURL,
			RevokeURL:        DefaultRevokeURL,
			HubURL:           DefaultHubURL,
			SubscriptionsURL: DefaultSubscriptionsURL,
			UsersURL:         DefaultUsersURL,
		},
		Topics: DefaultTopics(),
	}
}

// DefaultTopics returns the built-in topic table.
func DefaultTopics() map[string]string {
	return map[string]string{
		"follow":                     "https://api.twitch.tv/helix/users/follows",
		"subscription":               "https://api.twitch.tv/helix/subscriptions/events",
		"changeStream":               "https://api.twitch.tv/helix/streams",
		"changeProfile":              "https://api.twitch.tv/helix/users",
		"createExtensionTransaction": "https://api.twitch.tv/helix/extensions/transactions",
		"changeModerator":            "https://api.twitch.tv/helix/moderation/moderators/events",
		"changeBan":                  "https://api.twitch.tv/helix/moderation/banned/events",
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("core: a username must be provided to attach webhook subscriptions")
	}
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("core: a client id and client secret must be provided to access the remote API")
	}
	if strings.TrimSpace(c.HubSecret) == "" {
		return fmt.Errorf("core: a hub secret must be provided to verify notification signatures")
	}
	if strings.TrimSpace(c.CallbackURL) == "" {
		return fmt.Errorf("core: a callback url must be provided for the hub to send webhook updates to")
	}
	return nil
}

// TopicURL returns the hub topic URL template for a configured topic name.
func (c Config) TopicURL(topic string) (string, bool) {
	url, ok := c.Topics[strings.TrimSpace(topic)]
	if !ok || strings.TrimSpace(url) == "" {
		return "", false
	}
	return strings.TrimSpace(url), true
}

// TopicNames returns the configured topic names in stable order.
func (c Config) TopicNames() []string {
	names := make([]string, 0, len(c.Topics))
	for name := range c.Topics {
		if strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizedScopes trims and dedupes the configured scope list, falling back
// to the default grant scope when empty.
func (c Config) NormalizedScopes() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(c.Scopes))
	for _, scope := range c.Scopes {
		normalized := strings.TrimSpace(scope)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		out = append(out, "openid")
	}
	return out
}
