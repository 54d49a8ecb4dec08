// Package identity resolves the configured username to its remote profile
// and keeps the answer cached for the life of the process.
package identity

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-twitch-listener/core"
)

const defaultRequestTimeout = 10 * time.Second

// Profile is the remote user record. ID is the subject identifier webhook
// topics are keyed on; Raw carries every field the lookup returned.
type Profile struct {
	ID  string
	Raw map[string]any
}

// ProfileCacheConfig carries the lookup subject and collaborators. The lookup
// authenticates with the application Client-ID header, not a bearer token.
type ProfileCacheConfig struct {
	Username  string
	ClientID  string
	UsersURL  string
	Transport core.Transport
}

// ProfileCache performs the username lookup once and serves the cached
// profile afterwards. A lookup that failed leaves the cache empty so the next
// call retries.
type ProfileCache struct {
	config ProfileCacheConfig

	mu      sync.Mutex
	profile Profile
}

func NewProfileCache(cfg ProfileCacheConfig) (*ProfileCache, error) {
	if cfg.Transport == nil {
		return nil, core.BadInputError("identity: profile cache requires a transport", nil)
	}
	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		return nil, core.BadInputError("identity: profile cache requires a username", nil)
	}
	usersURL := strings.TrimSpace(cfg.UsersURL)
	if usersURL == "" {
		usersURL = core.DefaultUsersURL
	}
	return &ProfileCache{
		config: ProfileCacheConfig{
			Username:  username,
			ClientID:  strings.TrimSpace(cfg.ClientID),
			UsersURL:  usersURL,
			Transport: cfg.Transport,
		},
	}, nil
}

// RequestUserInfo returns the profile for the configured username. The remote
// lookup runs at most once: a profile with an id present is served from
// memory. An empty result set is a not-found error naming the username.
func (c *ProfileCache) RequestUserInfo(ctx context.Context) (Profile, error) {
	if c == nil {
		return Profile{}, core.InternalError("identity: profile cache is not configured", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.profile.ID != "" {
		return c.profile.clone(), nil
	}

	res, err := c.config.Transport.Do(ctx, core.TransportRequest{
		Method: "GET",
		URL:    c.config.UsersURL,
		Query: map[string]string{
			"login": c.config.Username,
		},
		Headers: map[string]string{
			"Client-ID": c.config.ClientID,
		},
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return Profile{}, core.TransportError(err, "identity: profile lookup call failed", map[string]any{
			"username": c.config.Username,
		})
	}

	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return Profile{}, core.TransportError(err, "identity: could not parse profile lookup response", map[string]any{
			"username":      c.config.Username,
			"response_body": string(res.Body),
		})
	}
	if len(envelope.Data) == 0 {
		return Profile{}, core.NotFoundError("identity: no profile found for username "+c.config.Username, map[string]any{
			"username": c.config.Username,
		})
	}

	fields := envelope.Data[0]
	if c.profile.Raw == nil {
		c.profile.Raw = map[string]any{}
	}
	for key, value := range fields {
		c.profile.Raw[key] = value
	}
	c.profile.ID = readStringField(c.profile.Raw, "id")

	return c.profile.clone(), nil
}

// Username returns the configured lookup subject.
func (c *ProfileCache) Username() string {
	if c == nil {
		return ""
	}
	return c.config.Username
}

func (p Profile) clone() Profile {
	out := Profile{ID: p.ID}
	if p.Raw != nil {
		out.Raw = make(map[string]any, len(p.Raw))
		for key, value := range p.Raw {
			out.Raw[key] = value
		}
	}
	return out
}

func readStringField(fields map[string]any, key string) string {
	value, ok := fields[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
