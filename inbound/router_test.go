package inbound

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goliatone/go-twitch-listener/core"
	"github.com/goliatone/go-twitch-listener/webhooks"
)

type recordedEvent struct {
	Name    string
	Payload any
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recordingSink) Emit(name string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Name: name, Payload: payload})
}

func (s *recordingSink) all() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

type allowAllVerifier struct{}

func (allowAllVerifier) Verify(context.Context, core.InboundRequest) error { return nil }

type denyAllVerifier struct{}

func (denyAllVerifier) Verify(context.Context, core.InboundRequest) error {
	return errors.New("bad signature")
}

func newTestRouter(t *testing.T, cfg RouterConfig) *Router {
	t.Helper()
	if cfg.Topics == nil {
		cfg.Topics = []string{"follow", "changeProfile"}
	}
	if cfg.Verifier == nil {
		cfg.Verifier = allowAllVerifier{}
	}
	cfg.Production = true
	router, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	return router
}

func signSHA256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestChallengeEchoAndLifecycleEvents(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{Sink: sink})

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/follow?hub.challenge=challenge-token&hub.mode=subscribe", nil)
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if body := res.Body.String(); body != "challenge-token" {
		t.Fatalf("expected challenge echoed verbatim, got %q", body)
	}
	events := sink.all()
	if len(events) != 1 || events[0].Name != "add_webhook_follow" {
		t.Fatalf("expected add_webhook_follow, got %v", events)
	}
}

func TestChallengeUnsubscribeEmitsRemoveEvent(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{Sink: sink})

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/follow?hub.challenge=tok&hub.mode=unsubscribe", nil)
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	events := sink.all()
	if len(events) != 1 || events[0].Name != "remove_webhook_follow" {
		t.Fatalf("expected remove_webhook_follow, got %v", events)
	}
}

func TestChallengeRouteUsesCanonicalTopicName(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{Sink: sink})

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/changeprofile?hub.challenge=tok&hub.mode=subscribe", nil)
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	events := sink.all()
	if len(events) != 1 || events[0].Name != "add_webhook_changeProfile" {
		t.Fatalf("expected the canonical topic name in the event, got %v", events)
	}
}

func TestChallengeWithoutModeOrChallengeStillResponds200(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{Sink: sink})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/follow", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for a bare GET, got %d", res.Code)
	}
	if res.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", res.Body.String())
	}
	if events := sink.all(); len(events) != 0 {
		t.Fatalf("expected no lifecycle events without hub.mode, got %v", events)
	}
}

func TestNotificationAcceptedEmitsTopicEventOnce(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{
		Sink:     sink,
		Verifier: webhooks.NewHubSignatureVerifier("shared-secret"),
	})

	body := []byte(`{"data":[{"from_id":"1336","to_id":"1337"}]}`)
	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/follow", bytes.NewReader(body))
	req.Header.Set("x-hub-signature", signSHA256("shared-secret", body))
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %v", events)
	}
	if events[0].Name != "follow" {
		t.Fatalf("expected raw topic event name, got %q", events[0].Name)
	}
	payload, ok := events[0].Payload.(map[string]any)
	if !ok {
		t.Fatalf("expected parsed JSON payload, got %T", events[0].Payload)
	}
	if _, ok := payload["data"]; !ok {
		t.Fatalf("expected notification body as payload, got %v", payload)
	}
}

func TestNotificationRejectedEmitsNothing(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{
		Sink:     sink,
		Verifier: webhooks.NewHubSignatureVerifier("shared-secret"),
	})

	body := []byte(`{"data":[]}`)
	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/follow", bytes.NewReader(body))
	req.Header.Set("x-hub-signature", signSHA256("wrong-secret", body))
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if events := sink.all(); len(events) != 0 {
		t.Fatalf("expected no events after rejection, got %v", events)
	}
}

func TestNotificationMissingSignatureRejected(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{
		Sink:     sink,
		Verifier: webhooks.NewHubSignatureVerifier("shared-secret"),
	})

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/follow", bytes.NewReader([]byte(`{}`)))
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if events := sink.all(); len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}

func TestNotificationMalformedBodyIsBadRequest(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{Sink: sink})

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/follow", bytes.NewReader([]byte(`not json`)))
	router.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if events := sink.all(); len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}

func TestDuplicateDeliveryAcknowledgedWithoutReEmit(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{
		Sink:   sink,
		Ledger: NewMemoryDeliveryLedger(),
	})

	body := []byte(`{"data":[{"id":"1"}]}`)
	signature := signSHA256("shared-secret", body)

	for i := 0; i < 2; i++ {
		res := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/follow", bytes.NewReader(body))
		req.Header.Set("x-hub-signature", signature)
		router.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, res.Code)
		}
	}

	if events := sink.all(); len(events) != 1 {
		t.Fatalf("expected the duplicate to be swallowed, got %d events", len(events))
	}
}

func TestSameBodyOnDifferentTopicsBothEmit(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{
		Sink:   sink,
		Ledger: NewMemoryDeliveryLedger(),
	})

	body := []byte(`{"data":[]}`)
	signature := signSHA256("shared-secret", body)
	for _, path := range []string{"/follow", "/changeprofile"} {
		res := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set("x-hub-signature", signature)
		router.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, res.Code)
		}
	}

	if events := sink.all(); len(events) != 2 {
		t.Fatalf("expected dedup to be scoped per topic, got %d events", len(events))
	}
}

func TestRootPathEchoesBareChallenge(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{Sink: sink})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/?hub.challenge=bootstrap-token", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != "bootstrap-token" {
		t.Fatalf("expected bare challenge echoed, got %q", string(body))
	}
	if events := sink.all(); len(events) != 0 {
		t.Fatalf("expected no events for the root echo, got %v", events)
	}
}

func TestUnknownPathsAndMethodsAre404(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(t, RouterConfig{Sink: sink})

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/nosuchtopic"},
		{http.MethodPost, "/"},
		{http.MethodDelete, "/follow"},
	}
	for _, tc := range cases {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(tc.method, tc.path, nil))
		if res.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, res.Code)
		}
	}
}

func TestRejectedVerifierNeverSeesLedger(t *testing.T) {
	sink := &recordingSink{}
	ledger := NewMemoryDeliveryLedger()
	router := newTestRouter(t, RouterConfig{
		Sink:     sink,
		Verifier: denyAllVerifier{},
		Ledger:   ledger,
	})

	body := []byte(`{"data":[]}`)
	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/follow", bytes.NewReader(body))
	req.Header.Set("x-hub-signature", "sha256=deadbeef")
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}

	// The rejected delivery must not have claimed its id.
	claimed, err := ledger.Claim(context.Background(), "follow", "sha256=deadbeef")
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if !claimed {
		t.Fatal("expected the delivery id to still be unclaimed after rejection")
	}
}
