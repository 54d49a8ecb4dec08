package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// TransportRequest describes one outbound call to the remote API.
type TransportRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
	Timeout time.Duration
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Transport is the outbound HTTP collaborator boundary. The core only needs
// "send method/url/headers/body/query, get back status+body or a transport
// error".
type Transport interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// InboundRequest is the inbound route boundary: what the router hands to
// verifiers and handlers after the HTTP layer has parsed the request.
type InboundRequest struct {
	Topic   string
	Method  string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
}

type InboundResult struct {
	StatusCode int
	Body       []byte
}

// TokenRecord is the persisted access token shape. It is replaced wholesale
// on every grant, never mutated in place.
type TokenRecord struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   int64    `json:"expires_in"`
	Scope       []string `json:"scope"`
	TokenType   string   `json:"token_type"`
}

func (r TokenRecord) Empty() bool {
	return strings.TrimSpace(r.AccessToken) == ""
}

// ParseTokenRecord decodes a token record from a raw grant response or
// persisted blob. Twitch serializes scope as an array; a bare string is
// tolerated for hand-edited token files.
func ParseTokenRecord(data []byte) (TokenRecord, error) {
	var record TokenRecord
	if err := json.Unmarshal(data, &record); err == nil {
		return record, nil
	}
	var loose struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Scope       string `json:"scope"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(data, &loose); err != nil {
		return TokenRecord{}, fmt.Errorf("core: parse token record: %w", err)
	}
	record = TokenRecord{
		AccessToken: loose.AccessToken,
		ExpiresIn:   loose.ExpiresIn,
		TokenType:   loose.TokenType,
	}
	if strings.TrimSpace(loose.Scope) != "" {
		record.Scope = strings.Fields(loose.Scope)
	}
	return record, nil
}

// TokenStore is the durable blob store for the single cached token record.
// Read returns ok=false with a nil error when nothing has been persisted yet.
type TokenStore interface {
	Read(ctx context.Context) (data []byte, ok bool, err error)
	Write(ctx context.Context, data []byte) error
}

// ActiveSubscription is a remote-owned record returned by the hub's
// active-subscriptions query. It is read to decide dedup actions and never
// persisted locally.
type ActiveSubscription struct {
	Topic     string `json:"topic"`
	Callback  string `json:"callback"`
	ExpiresAt string `json:"expires_at"`
}

// DeliveryLedger dedupes inbound notification deliveries. Claim reports
// whether the delivery id is new for the topic; a false result means the
// notification was already handled and must not be re-emitted.
type DeliveryLedger interface {
	Claim(ctx context.Context, topic string, deliveryID string) (bool, error)
}
