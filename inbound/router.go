// Package inbound serves the callback surface the hub talks to: the GET
// challenge handshake that activates a subscription, and the signed POST
// notifications that become local domain events.
package inbound

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-twitch-listener/core"
)

const maxNotificationBodyBytes = 1 << 20 // 1 MiB

// Verifier authenticates an inbound notification before any handler runs.
type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type RouterConfig struct {
	// Topics lists the configured topic names in their canonical casing.
	// Routes bind on the lowercased name; events keep the canonical one.
	Topics []string

	Verifier Verifier
	Sink     core.EventSink

	// Ledger is optional. When set, each verified notification claims its
	// delivery id before emitting; an already-claimed delivery is
	// acknowledged without re-emitting.
	Ledger core.DeliveryLedger

	// Production silences the per-request debug dump.
	Production bool

	Logger core.Logger
}

// Router is the http.Handler bound to the callback base URL.
type Router struct {
	config RouterConfig
	topics map[string]string // lowercased path -> canonical topic name
	logger core.Logger
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Verifier == nil {
		return nil, core.BadInputError("inbound: router requires a signature verifier", nil)
	}
	if cfg.Sink == nil {
		return nil, core.BadInputError("inbound: router requires an event sink", nil)
	}
	topics := make(map[string]string, len(cfg.Topics))
	for _, topic := range cfg.Topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		topics[strings.ToLower(topic)] = topic
	}
	return &Router{
		config: cfg,
		topics: topics,
		logger: glog.Ensure(cfg.Logger),
	}, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !rt.config.Production {
		rt.debugRequest(r)
	}

	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		if r.Method == http.MethodGet {
			rt.serveBareChallenge(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	topic, ok := rt.topics[strings.ToLower(path)]
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.serveChallenge(w, r, topic)
	case http.MethodPost:
		rt.serveNotification(w, r, topic)
	default:
		http.NotFound(w, r)
	}
}

// serveChallenge echoes the hub's challenge verbatim and surfaces the
// lifecycle transition as a local event. This is the only place where the hub
// confirming activation becomes observable local state: the coordinator's
// submit resolving only means the hub accepted the request.
func (rt *Router) serveChallenge(w http.ResponseWriter, r *http.Request, topic string) {
	query := r.URL.Query()

	switch query.Get("hub.mode") {
	case "subscribe":
		rt.config.Sink.Emit(core.AddWebhookEvent(topic), nil)
	case "unsubscribe":
		rt.config.Sink.Emit(core.RemoveWebhookEvent(topic), nil)
	}

	w.WriteHeader(http.StatusOK)
	if challenge := query.Get("hub.challenge"); challenge != "" {
		_, _ = io.WriteString(w, challenge)
	}
}

// serveBareChallenge answers root-path handshakes. Hubs probing the base
// callback URL before any topic route existed still get their echo.
func (rt *Router) serveBareChallenge(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if challenge := r.URL.Query().Get("hub.challenge"); challenge != "" {
		_, _ = io.WriteString(w, challenge)
	}
}

func (rt *Router) serveNotification(w http.ResponseWriter, r *http.Request, topic string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBodyBytes))
	if err != nil {
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}

	req := core.InboundRequest{
		Topic:   topic,
		Method:  r.Method,
		Headers: flattenHeaders(r.Header),
		Query:   flattenQuery(r.URL.Query()),
		Body:    body,
	}
	if err := rt.config.Verifier.Verify(r.Context(), req); err != nil {
		rt.logger.Warn("rejected notification", "topic", topic, "error", err)
		http.Error(w, "signature verification failed", http.StatusUnauthorized)
		return
	}

	if !rt.claimDelivery(r.Context(), topic, req) {
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "could not parse notification body", http.StatusBadRequest)
		return
	}

	rt.config.Sink.Emit(topic, payload)
	w.WriteHeader(http.StatusOK)
}

// claimDelivery reports whether this notification should be emitted. The
// signature header doubles as the delivery id: the hub signs each delivery
// over its exact body, so a repeated signature is a redelivery. Ledger
// failures degrade to emitting; dedup is best effort.
func (rt *Router) claimDelivery(ctx context.Context, topic string, req core.InboundRequest) bool {
	if rt.config.Ledger == nil {
		return true
	}
	deliveryID := ""
	for name, value := range req.Headers {
		if strings.EqualFold(name, "x-hub-signature") {
			deliveryID = value
			break
		}
	}
	if deliveryID == "" {
		return true
	}
	claimed, err := rt.config.Ledger.Claim(ctx, topic, deliveryID)
	if err != nil {
		rt.logger.Warn("delivery claim failed", "topic", topic, "error", err)
		return true
	}
	if !claimed {
		rt.logger.Info("skipping duplicate delivery", "topic", topic)
	}
	return claimed
}

func (rt *Router) debugRequest(r *http.Request) {
	rt.logger.Debug("inbound request",
		"host", r.Host,
		"method", r.Method,
		"path", r.URL.Path,
		"headers", flattenHeaders(r.Header),
		"query", flattenQuery(r.URL.Query()),
	)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	return out
}

func flattenQuery(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for name, list := range values {
		if len(list) == 0 {
			continue
		}
		out[name] = list[0]
	}
	return out
}
