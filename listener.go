// Package twitchlistener assembles the event relay: it manages the
// application credential, subscribes configured topics against the remote
// hub, and serves the callback surface that turns verified notifications
// into local events.
package twitchlistener

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-twitch-listener/auth"
	"github.com/goliatone/go-twitch-listener/core"
	"github.com/goliatone/go-twitch-listener/identity"
	"github.com/goliatone/go-twitch-listener/inbound"
	"github.com/goliatone/go-twitch-listener/store"
	"github.com/goliatone/go-twitch-listener/transport"
	"github.com/goliatone/go-twitch-listener/webhooks"
)

const defaultPort = 8080

type Option func(*builder)

type builder struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	transport      core.Transport
	tokenStore     core.TokenStore
	emitter        *core.Emitter
	ledger         core.DeliveryLedger
}

func WithLogger(logger core.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *builder) { b.loggerProvider = provider }
}

func WithTransport(t core.Transport) Option {
	return func(b *builder) { b.transport = t }
}

func WithTokenStore(s core.TokenStore) Option {
	return func(b *builder) { b.tokenStore = s }
}

func WithEmitter(e *core.Emitter) Option {
	return func(b *builder) { b.emitter = e }
}

func WithDeliveryLedger(l core.DeliveryLedger) Option {
	return func(b *builder) { b.ledger = l }
}

// Listener is the assembled relay. Construction validates configuration and
// wires the components; Launch binds the callback surface.
type Listener struct {
	config      core.Config
	logger      core.Logger
	emitter     *core.Emitter
	tokens      *auth.TokenManager
	profiles    *identity.ProfileCache
	coordinator *webhooks.Coordinator
	router      *inbound.Router

	mu     sync.Mutex
	server *http.Server
}

func New(cfg core.Config, opts ...Option) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := builder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&b)
	}

	_, logger := glog.Resolve("twitch-listener", b.loggerProvider, b.logger)
	logger = glog.Ensure(logger)

	if cfg.Topics == nil {
		cfg.Topics = core.DefaultTopics()
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = core.DefaultLeaseSeconds
	}

	httpTransport := b.transport
	if httpTransport == nil {
		httpTransport = transport.NewRESTClient(nil)
	}

	tokenStore := b.tokenStore
	if tokenStore == nil {
		if strings.TrimSpace(cfg.TokenPath) != "" {
			tokenStore = store.NewFileTokenStore(cfg.TokenPath)
		} else {
			logger.Warn("no token path configured, access tokens will not survive restarts")
			tokenStore = store.NewMemoryTokenStore()
		}
	}

	emitter := b.emitter
	if emitter == nil {
		emitter = core.NewEmitter()
	}

	if !cfg.Production {
		logger.Warn("not in production mode, inbound requests are logged at debug level")
	}

	tokens, err := auth.NewTokenManager(auth.TokenManagerConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.NormalizedScopes(),
		TokenURL:     cfg.Endpoints.TokenURL,
		ValidateURL:  cfg.Endpoints.ValidateURL,
		RevokeURL:    cfg.Endpoints.RevokeURL,
		Transport:    httpTransport,
		Store:        tokenStore,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	profiles, err := identity.NewProfileCache(identity.ProfileCacheConfig{
		Username:  cfg.Username,
		ClientID:  cfg.ClientID,
		UsersURL:  cfg.Endpoints.UsersURL,
		Transport: httpTransport,
	})
	if err != nil {
		return nil, err
	}

	coordinator, err := webhooks.NewCoordinator(webhooks.CoordinatorConfig{
		ClientID:         cfg.ClientID,
		HubSecret:        cfg.HubSecret,
		CallbackURL:      cfg.CallbackURL,
		LeaseSeconds:     cfg.LeaseSeconds,
		HubURL:           cfg.Endpoints.HubURL,
		SubscriptionsURL: cfg.Endpoints.SubscriptionsURL,
		Topics:           cfg.Topics,
		Transport:        httpTransport,
		Tokens:           tokens,
		Profiles:         profiles,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	router, err := inbound.NewRouter(inbound.RouterConfig{
		Topics:     cfg.TopicNames(),
		Verifier:   webhooks.NewHubSignatureVerifier(cfg.HubSecret),
		Sink:       emitter,
		Ledger:     b.ledger,
		Production: cfg.Production,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Listener{
		config:      cfg,
		logger:      logger,
		emitter:     emitter,
		tokens:      tokens,
		profiles:    profiles,
		coordinator: coordinator,
		router:      router,
	}, nil
}

// Launch binds the callback surface and emits the ready event once the
// listener is accepting connections. A port of zero falls back to the
// configured port, then to the default.
func (l *Listener) Launch(ctx context.Context, port int) error {
	if l == nil {
		return core.InternalError("twitchlistener: listener is not configured", nil)
	}
	if port <= 0 {
		port = l.config.Port
	}
	if port <= 0 {
		port = defaultPort
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server != nil {
		return core.InternalError("twitchlistener: listener is already running", nil)
	}

	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return core.InternalError("twitchlistener: could not bind "+addr, map[string]any{
			"error": err.Error(),
		})
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.server = server

	go func() {
		if serveErr := server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			l.logger.Error("callback server stopped", "error", serveErr)
		}
	}()

	l.logger.Info("listening for webhook callbacks", "addr", addr)
	l.emitter.Emit(core.EventReady, port)
	return nil
}

// Close shuts the callback surface down and waits for detached best-effort
// calls, such as in-flight token revocations, to finish.
func (l *Listener) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	server := l.server
	l.server = nil
	l.mu.Unlock()

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	l.tokens.Wait()
	return err
}

// On subscribes a handler to a named event and returns its unsubscribe
// function. Event names are the external contract: `ready`,
// `add_webhook_<topic>`, `remove_webhook_<topic>`, and the raw topic name
// for notification payloads.
func (l *Listener) On(event string, handler core.EventHandler) func() {
	return l.emitter.On(event, handler)
}

// Handler exposes the callback router for callers that mount the listener
// inside their own HTTP server instead of calling Launch.
func (l *Listener) Handler() http.Handler {
	return l.router
}

// Webhook submits a subscription intent for a configured topic.
func (l *Listener) Webhook(ctx context.Context, topic string, opts webhooks.WebhookOptions) error {
	return l.coordinator.Webhook(ctx, topic, opts)
}

// CreateWebhooks subscribes every configured topic concurrently.
func (l *Listener) CreateWebhooks(ctx context.Context) error {
	return l.coordinator.CreateWebhooks(ctx)
}

// FollowWebhook subscribes to new-follower notifications.
func (l *Listener) FollowWebhook(ctx context.Context) error {
	return l.coordinator.FollowWebhook(ctx)
}

// ProfileChangeWebhook subscribes to profile update notifications.
func (l *Listener) ProfileChangeWebhook(ctx context.Context) error {
	return l.coordinator.ProfileChangeWebhook(ctx)
}

// StreamChangeWebhook subscribes to stream change notifications.
func (l *Listener) StreamChangeWebhook(ctx context.Context) error {
	return l.coordinator.StreamChangeWebhook(ctx)
}

// RequestActiveWebhooks returns the hub's currently active subscriptions.
func (l *Listener) RequestActiveWebhooks(ctx context.Context) ([]core.ActiveSubscription, error) {
	return l.coordinator.RequestActiveWebhooks(ctx)
}

// RequestAccessToken returns a valid access token value.
func (l *Listener) RequestAccessToken(ctx context.Context) (string, error) {
	return l.tokens.RequestAccessToken(ctx)
}

// RevokeAccessToken detaches a best-effort revoke call for the token.
func (l *Listener) RevokeAccessToken(ctx context.Context, token string) {
	l.tokens.RevokeAccessToken(ctx, token)
}

// RequestUserInfo resolves the configured username's profile.
func (l *Listener) RequestUserInfo(ctx context.Context) (identity.Profile, error) {
	return l.profiles.RequestUserInfo(ctx)
}
