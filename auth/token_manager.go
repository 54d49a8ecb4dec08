// Package auth owns the application access token lifecycle: acquire through
// the client-credential grant, cache in memory and in a TokenStore, validate
// against the identity service, and revoke tokens that failed validation.
package auth

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-twitch-listener/core"
)

const defaultRequestTimeout = 15 * time.Second

// TokenManagerConfig carries the credentials, endpoints, and collaborators
// the manager needs. Transport is required; Store and Logger degrade to
// in-memory-only caching and a nop logger.
type TokenManagerConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	TokenURL     string
	ValidateURL  string
	RevokeURL    string

	Transport core.Transport
	Store     core.TokenStore
	Logger    core.Logger
}

// TokenManager holds the single application token. Callers borrow the token
// value per call; the record itself is replaced wholesale on every grant.
type TokenManager struct {
	config TokenManagerConfig
	logger core.Logger

	mu     sync.Mutex
	cached core.TokenRecord

	detached sync.WaitGroup
}

// RevokeResult reports the outcome of a best-effort revoke call. It exists so
// the discard is visible at the call site instead of an error silently lost.
type RevokeResult struct {
	Token string
	Err   error
}

func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.Transport == nil {
		return nil, core.BadInputError("auth: token manager requires a transport", nil)
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, core.BadInputError("auth: token manager requires a client id and client secret", nil)
	}

	scopes := append([]string(nil), cfg.Scopes...)
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}

	return &TokenManager{
		config: TokenManagerConfig{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			TokenURL:     urlOrDefault(cfg.TokenURL, core.DefaultTokenURL),
			ValidateURL:  urlOrDefault(cfg.ValidateURL, core.DefaultValidateURL),
			RevokeURL:    urlOrDefault(cfg.RevokeURL, core.DefaultRevokeURL),
			Transport:    cfg.Transport,
			Store:        cfg.Store,
		},
		logger: glog.Ensure(cfg.Logger),
	}, nil
}

// RequestAccessToken returns a valid access token value, reusing the cached
// record when the identity service still accepts it. Flow:
//  1. load the current record (memory, then store)
//  2. validate it; a transport failure here is fatal, an invalid token is not
//  3. revoke the invalid token off the critical path and request a new grant
//
// Concurrent callers are serialized so a cold start performs one grant.
func (m *TokenManager) RequestAccessToken(ctx context.Context) (string, error) {
	if m == nil {
		return "", core.InternalError("auth: token manager is not configured", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record := m.cached
	if record.Empty() {
		record = m.readAccessToken(ctx)
	}

	valid, err := m.ValidateAccessToken(ctx, record.AccessToken)
	if err != nil {
		return "", err
	}
	if valid {
		m.cached = record
		return record.AccessToken, nil
	}
	if !record.Empty() {
		m.RevokeAccessToken(ctx, record.AccessToken)
	}

	granted, err := m.requestGrant(ctx)
	if err != nil {
		return "", err
	}
	m.cached = granted
	m.saveAccessToken(ctx, granted)
	return granted.AccessToken, nil
}

// ValidateAccessToken asks the identity service whether the token is still
// accepted. An empty token is invalid without a network call. The check is a
// substring match against the raw response body, not structured parsing: the
// service echoes the owning client_id back for live tokens. Leniency is
// intentional; do not tighten it without coverage against the live endpoint.
func (m *TokenManager) ValidateAccessToken(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	res, err := m.config.Transport.Do(ctx, core.TransportRequest{
		Method: "GET",
		URL:    m.config.ValidateURL,
		Headers: map[string]string{
			"Authorization": "OAuth " + token,
		},
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return false, core.AuthError(err, "auth: token validation call failed", map[string]any{
			"url": m.config.ValidateURL,
		})
	}
	return strings.Contains(string(res.Body), "client_id"), nil
}

// RevokeAccessToken asks the identity service to invalidate the token. The
// call is detached: it runs on its own goroutine, survives cancellation of
// the caller's context, and its result is logged, never returned. Revocation
// is not on the critical path of any caller-initiated action.
func (m *TokenManager) RevokeAccessToken(ctx context.Context, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	detachedCtx := context.WithoutCancel(ctx)
	m.detached.Add(1)
	go func() {
		defer m.detached.Done()
		result := m.revoke(detachedCtx, token)
		if result.Err != nil {
			m.logger.Warn("could not revoke access token", "error", result.Err)
			return
		}
		m.logger.Info("revoked access token")
	}()
}

// Wait blocks until detached best-effort calls have finished. Used on
// shutdown and in tests.
func (m *TokenManager) Wait() {
	if m == nil {
		return
	}
	m.detached.Wait()
}

func (m *TokenManager) revoke(ctx context.Context, token string) RevokeResult {
	res, err := m.config.Transport.Do(ctx, core.TransportRequest{
		Method: "POST",
		URL:    m.config.RevokeURL,
		Query: map[string]string{
			"client_id": m.config.ClientID,
			"token":     token,
		},
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return RevokeResult{Token: token, Err: err}
	}
	if res.StatusCode >= 400 {
		return RevokeResult{Token: token, Err: core.TransportError(nil, "auth: revoke call rejected", map[string]any{
			"status_code":   res.StatusCode,
			"response_body": string(res.Body),
		})}
	}
	return RevokeResult{Token: token}
}

func (m *TokenManager) requestGrant(ctx context.Context) (core.TokenRecord, error) {
	res, err := m.config.Transport.Do(ctx, core.TransportRequest{
		Method: "POST",
		URL:    m.config.TokenURL,
		Query: map[string]string{
			"client_id":     m.config.ClientID,
			"client_secret": m.config.ClientSecret,
			"grant_type":    "client_credentials",
			"scope":         strings.Join(m.config.Scopes, " "),
		},
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return core.TokenRecord{}, core.AuthError(err, "auth: token grant call failed", map[string]any{
			"url": m.config.TokenURL,
		})
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return core.TokenRecord{}, core.AuthError(nil, "auth: token grant rejected", map[string]any{
			"status_code":   res.StatusCode,
			"response_body": string(res.Body),
		})
	}
	record, err := core.ParseTokenRecord(res.Body)
	if err != nil || record.Empty() {
		return core.TokenRecord{}, core.AuthError(err, "auth: could not parse an access token from the grant response", map[string]any{
			"response_body": string(res.Body),
		})
	}
	return record, nil
}

// readAccessToken loads the persisted record. Read and parse failures degrade
// to "no token": the grant path recovers, so they are warnings, not errors.
func (m *TokenManager) readAccessToken(ctx context.Context) core.TokenRecord {
	if m.config.Store == nil {
		return core.TokenRecord{}
	}
	data, ok, err := m.config.Store.Read(ctx)
	if err != nil {
		m.logger.Warn("could not read persisted access token", "error", err)
		return core.TokenRecord{}
	}
	if !ok {
		return core.TokenRecord{}
	}
	record, err := core.ParseTokenRecord(data)
	if err != nil {
		m.logger.Warn("could not parse persisted access token", "error", err)
		return core.TokenRecord{}
	}
	return record
}

// saveAccessToken persists the record best-effort. A write failure leaves the
// process on the in-memory copy and is logged only.
func (m *TokenManager) saveAccessToken(ctx context.Context, record core.TokenRecord) {
	if m.config.Store == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		m.logger.Warn("could not serialize access token for persistence", "error", err)
		return
	}
	if err := m.config.Store.Write(ctx, data); err != nil {
		m.logger.Warn("could not persist access token", "error", err)
	}
}

func urlOrDefault(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
