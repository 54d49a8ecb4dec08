package webhooks

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-twitch-listener/core"
	"github.com/goliatone/go-twitch-listener/identity"
)

const defaultRequestTimeout = 30 * time.Second

// hub "accepted" status. Acceptance means the hub will challenge the
// callback, not that the subscription is active yet.
const statusAccepted = 202

type WebhookMode string

const (
	ModeSubscribe   WebhookMode = "subscribe"
	ModeUnsubscribe WebhookMode = "unsubscribe"
)

// TokenSource supplies the bearer token for authenticated hub calls.
type TokenSource interface {
	RequestAccessToken(ctx context.Context) (string, error)
}

// ProfileSource resolves the configured username to its subject profile.
type ProfileSource interface {
	RequestUserInfo(ctx context.Context) (identity.Profile, error)
}

// WebhookOptions tune a single subscription intent. Mode defaults to
// subscribe; QueryFragment is appended verbatim to the topic URL template;
// Headers are merged into the hub request after the standard set.
type WebhookOptions struct {
	Mode          WebhookMode
	QueryFragment string
	Headers       map[string]string
}

type CoordinatorConfig struct {
	ClientID         string
	HubSecret        string
	CallbackURL      string
	LeaseSeconds     int
	HubURL           string
	SubscriptionsURL string
	Topics           map[string]string

	Transport core.Transport
	Tokens    TokenSource
	Profiles  ProfileSource
	Logger    core.Logger
}

// Coordinator owns the outbound half of the subscription protocol. Dedup is
// best effort: the active-subscriptions query and the follow-up actions are
// not transactional against the remote hub, so two concurrent calls for the
// same topic can still race each other.
type Coordinator struct {
	config CoordinatorConfig
	logger core.Logger
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Transport == nil {
		return nil, core.BadInputError("webhooks: coordinator requires a transport", nil)
	}
	if cfg.Tokens == nil {
		return nil, core.BadInputError("webhooks: coordinator requires a token source", nil)
	}
	callbackURL := strings.TrimSpace(cfg.CallbackURL)
	if callbackURL == "" {
		return nil, core.BadInputError("webhooks: coordinator requires a callback url", nil)
	}
	if strings.TrimSpace(cfg.HubSecret) == "" {
		return nil, core.BadInputError("webhooks: coordinator requires a hub secret", nil)
	}

	leaseSeconds := cfg.LeaseSeconds
	if leaseSeconds <= 0 {
		leaseSeconds = core.DefaultLeaseSeconds
	}
	topics := make(map[string]string, len(cfg.Topics))
	for name, url := range cfg.Topics {
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if name == "" || url == "" {
			continue
		}
		topics[name] = url
	}

	return &Coordinator{
		config: CoordinatorConfig{
			ClientID:         strings.TrimSpace(cfg.ClientID),
			HubSecret:        strings.TrimSpace(cfg.HubSecret),
			CallbackURL:      strings.TrimRight(callbackURL, "/"),
			LeaseSeconds:     leaseSeconds,
			HubURL:           urlOrDefault(cfg.HubURL, core.DefaultHubURL),
			SubscriptionsURL: urlOrDefault(cfg.SubscriptionsURL, core.DefaultSubscriptionsURL),
			Topics:           topics,
			Transport:        cfg.Transport,
			Tokens:           cfg.Tokens,
			Profiles:         cfg.Profiles,
		},
		logger: glog.Ensure(cfg.Logger),
	}, nil
}

// Webhook submits one subscription intent for a configured topic. An unknown
// topic fails with a validation error before any network call. For subscribe
// intents the coordinator first reconciles remote state: every active
// subscription matching this exact (topic URL, callback URL) pair is
// unsubscribed so the fresh subscribe starts a clean lease.
func (c *Coordinator) Webhook(ctx context.Context, topic string, opts WebhookOptions) error {
	if c == nil {
		return core.InternalError("webhooks: coordinator is not configured", nil)
	}
	topic = strings.TrimSpace(topic)
	template, ok := c.config.Topics[topic]
	if !ok {
		return core.BadInputError("webhooks: unknown topic "+topic, map[string]any{
			"topic": topic,
		})
	}

	token, err := c.config.Tokens.RequestAccessToken(ctx)
	if err != nil {
		return err
	}
	return c.webhookWithToken(ctx, token, topic, template, opts)
}

func (c *Coordinator) webhookWithToken(ctx context.Context, token string, topic string, template string, opts WebhookOptions) error {
	mode := opts.Mode
	if mode == "" {
		mode = ModeSubscribe
	}
	callbackURL := c.config.CallbackURL + "/" + strings.ToLower(topic)
	topicURL := template + opts.QueryFragment

	if mode == ModeSubscribe {
		if err := c.reconcileExisting(ctx, token, topicURL, callbackURL, opts.Headers); err != nil {
			return err
		}
	}
	return c.submit(ctx, mode, topicURL, callbackURL, opts.Headers)
}

// reconcileExisting unsubscribes every active subscription that exactly
// matches the intent's (topic URL, callback URL) pair. Matches are
// unsubscribed concurrently; order among them is not significant.
func (c *Coordinator) reconcileExisting(ctx context.Context, token string, topicURL string, callbackURL string, headers map[string]string) error {
	active, err := c.requestActiveWebhooks(ctx, token)
	if err != nil {
		return err
	}

	var matches []core.ActiveSubscription
	for _, subscription := range active {
		if subscription.Topic == topicURL && subscription.Callback == callbackURL {
			matches = append(matches, subscription)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(matches))
	for i := range matches {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = c.submit(ctx, ModeUnsubscribe, topicURL, callbackURL, headers)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// submit issues the hub POST. Any status other than accepted is a failure
// carrying the raw response body.
func (c *Coordinator) submit(ctx context.Context, mode WebhookMode, topicURL string, callbackURL string, headers map[string]string) error {
	body, err := json.Marshal(map[string]any{
		"hub.callback":      callbackURL,
		"hub.mode":          string(mode),
		"hub.topic":         topicURL,
		"hub.lease_seconds": c.config.LeaseSeconds,
		"hub.secret":        c.config.HubSecret,
	})
	if err != nil {
		return core.InternalError("webhooks: could not serialize hub request", nil)
	}

	requestHeaders := map[string]string{
		"Client-ID":    c.config.ClientID,
		"Content-Type": "application/json",
	}
	for key, value := range headers {
		requestHeaders[key] = value
	}

	res, err := c.config.Transport.Do(ctx, core.TransportRequest{
		Method:  "POST",
		URL:     c.config.HubURL,
		Headers: requestHeaders,
		Body:    body,
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return core.TransportError(err, "webhooks: hub call failed", map[string]any{
			"mode":  string(mode),
			"topic": topicURL,
		})
	}
	if res.StatusCode != statusAccepted {
		return core.HubError("webhooks: hub did not accept the "+string(mode)+" request", res.Body, map[string]any{
			"status_code": res.StatusCode,
			"mode":        string(mode),
			"topic":       topicURL,
		})
	}
	c.logger.Info("hub accepted request",
		"mode", string(mode),
		"topic", topicURL,
		"lease_seconds", c.config.LeaseSeconds,
	)
	return nil
}

// RequestActiveWebhooks returns the hub's view of the currently active
// subscriptions for this application.
func (c *Coordinator) RequestActiveWebhooks(ctx context.Context) ([]core.ActiveSubscription, error) {
	if c == nil {
		return nil, core.InternalError("webhooks: coordinator is not configured", nil)
	}
	token, err := c.config.Tokens.RequestAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.requestActiveWebhooks(ctx, token)
}

func (c *Coordinator) requestActiveWebhooks(ctx context.Context, token string) ([]core.ActiveSubscription, error) {
	res, err := c.config.Transport.Do(ctx, core.TransportRequest{
		Method: "GET",
		URL:    c.config.SubscriptionsURL,
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
		},
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return nil, core.TransportError(err, "webhooks: active subscriptions call failed", nil)
	}

	var envelope struct {
		Data []core.ActiveSubscription `json:"data"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, core.TransportError(err, "webhooks: could not parse active subscriptions response", map[string]any{
			"response_body": string(res.Body),
		})
	}
	return envelope.Data, nil
}

// FollowWebhook subscribes to new-follower notifications for the configured
// username.
func (c *Coordinator) FollowWebhook(ctx context.Context) error {
	return c.subjectWebhook(ctx, "follow")
}

// ProfileChangeWebhook subscribes to profile update notifications.
func (c *Coordinator) ProfileChangeWebhook(ctx context.Context) error {
	return c.subjectWebhook(ctx, "changeProfile")
}

// StreamChangeWebhook subscribes to stream up/down/change notifications.
func (c *Coordinator) StreamChangeWebhook(ctx context.Context) error {
	return c.subjectWebhook(ctx, "changeStream")
}

func (c *Coordinator) subjectWebhook(ctx context.Context, topic string) error {
	fragment, err := c.subjectFragment(ctx, topic)
	if err != nil {
		return err
	}
	return c.Webhook(ctx, topic, WebhookOptions{
		Mode:          ModeSubscribe,
		QueryFragment: fragment,
	})
}

func (c *Coordinator) subjectFragment(ctx context.Context, topic string) (string, error) {
	if c.config.Profiles == nil {
		return "", core.InternalError("webhooks: coordinator requires a profile source for subject topics", nil)
	}
	profile, err := c.config.Profiles.RequestUserInfo(ctx)
	if err != nil {
		return "", err
	}
	return subjectQueryFragment(topic, profile.ID), nil
}

// subjectQueryFragment binds a topic URL template to the subject id. The
// parameter names come from the remote API, not from the hub protocol.
func subjectQueryFragment(topic string, id string) string {
	switch topic {
	case "follow":
		return "?first=1&to_id=" + id
	case "changeProfile":
		return "?id=" + id
	case "subscription", "changeModerator", "changeBan":
		return "?broadcaster_id=" + id
	default:
		return "?user_id=" + id
	}
}

// CreateWebhooks subscribes every configured topic. The token and subject id
// are acquired once, then topics fan out concurrently. The barrier tolerates
// partial failure: each failed branch is logged and the rest keep going.
func (c *Coordinator) CreateWebhooks(ctx context.Context) error {
	if c == nil {
		return core.InternalError("webhooks: coordinator is not configured", nil)
	}
	token, err := c.config.Tokens.RequestAccessToken(ctx)
	if err != nil {
		return err
	}

	subjectID := ""
	if c.config.Profiles != nil {
		profile, err := c.config.Profiles.RequestUserInfo(ctx)
		if err != nil {
			return err
		}
		subjectID = profile.ID
	}

	var wg sync.WaitGroup
	for _, topic := range c.topicNames() {
		template := c.config.Topics[topic]
		wg.Add(1)
		go func(topic string, template string) {
			defer wg.Done()
			opts := WebhookOptions{
				Mode:          ModeSubscribe,
				QueryFragment: subjectQueryFragment(topic, subjectID),
			}
			if err := c.webhookWithToken(ctx, token, topic, template, opts); err != nil {
				c.logger.Error("could not subscribe topic", "topic", topic, "error", err)
			}
		}(topic, template)
	}
	wg.Wait()
	return nil
}

func (c *Coordinator) topicNames() []string {
	names := make([]string, 0, len(c.config.Topics))
	for name := range c.config.Topics {
		names = append(names, name)
	}
	return names
}

func urlOrDefault(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
