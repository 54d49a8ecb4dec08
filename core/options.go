package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"github.com/joho/godotenv"
)

// ConfigProvider loads configuration layered over defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// RawConfigLoader yields one raw configuration layer as a map.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// OptionsResolver merges the defaults, loaded, and runtime layers into the
// effective configuration.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvConfig reads configuration from the process environment, loading a
// .env file first when one is present. Validation is deferred to the
// resolver so partial env layers can merge over defaults.
func LoadEnvConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("core: parse env config: %w", err)
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			layer[key] = value
		}
	}
	setString("username", cfg.Username)
	setString("client_id", cfg.ClientID)
	setString("client_secret", cfg.ClientSecret)
	setString("hub_secret", cfg.HubSecret)
	setString("callback_url", cfg.CallbackURL)
	setString("token_path", cfg.TokenPath)
	if includeZero || cfg.Port != 0 {
		layer["port"] = cfg.Port
	}
	if includeZero || cfg.Production {
		layer["production"] = cfg.Production
	}
	if includeZero || cfg.LeaseSeconds != 0 {
		layer["lease_seconds"] = cfg.LeaseSeconds
	}
	if includeZero || len(cfg.Scopes) > 0 {
		layer["scopes"] = append([]string(nil), cfg.Scopes...)
	}

	endpoints := map[string]any{}
	setEndpoint := func(key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			endpoints[key] = value
		}
	}
	setEndpoint("token_url", cfg.Endpoints.TokenURL)
	setEndpoint("validate_url", cfg.Endpoints.ValidateURL)
	setEndpoint("revoke_url", cfg.Endpoints.RevokeURL)
	setEndpoint("hub_url", cfg.Endpoints.HubURL)
	setEndpoint("subscriptions_url", cfg.Endpoints.SubscriptionsURL)
	setEndpoint("users_url", cfg.Endpoints.UsersURL)
	if len(endpoints) > 0 {
		layer["endpoints"] = endpoints
	}

	if includeZero || len(cfg.Topics) > 0 {
		topics := map[string]any{}
		for name, url := range cfg.Topics {
			topics[name] = url
		}
		layer["topics"] = topics
	}
	return layer
}
