package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/goliatone/go-twitch-listener/core"
)

// DefaultSignatureHeader is the header the hub signs notification bodies
// under. The value has the form "<algorithm>=<hexdigest>".
const DefaultSignatureHeader = "x-hub-signature"

// HubSignatureVerifier authenticates inbound notification bodies against the
// shared hub secret. It gates every POST regardless of topic: a missing
// header, an unsupported algorithm, or a digest mismatch all reject the
// request before any handler runs.
type HubSignatureVerifier struct {
	Header string
	Secret string
}

func NewHubSignatureVerifier(secret string) HubSignatureVerifier {
	return HubSignatureVerifier{
		Header: DefaultSignatureHeader,
		Secret: strings.TrimSpace(secret),
	}
}

func (v HubSignatureVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return core.InternalError("webhooks: signature secret is required", nil)
	}
	headerName := strings.TrimSpace(v.Header)
	if headerName == "" {
		headerName = DefaultSignatureHeader
	}
	header := headerValue(req.Headers, headerName)
	if header == "" {
		return core.UnauthorizedError("webhooks: "+headerName+" header is required", nil)
	}

	algorithm, digest, found := strings.Cut(header, "=")
	if !found {
		return core.UnauthorizedError("webhooks: malformed signature header", nil)
	}
	algorithm = strings.TrimSpace(strings.ToLower(algorithm))
	digest = strings.TrimSpace(digest)

	constructor, ok := hashConstructor(algorithm)
	if !ok {
		return core.UnauthorizedError("webhooks: unsupported signature algorithm "+algorithm, nil)
	}

	provided, err := hex.DecodeString(digest)
	if err != nil {
		return core.UnauthorizedError("webhooks: signature digest is not hex encoded", nil)
	}

	mac := hmac.New(constructor, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return core.UnauthorizedError("webhooks: signature verification failed", nil)
	}
	return nil
}

func hashConstructor(algorithm string) (func() hash.Hash, bool) {
	switch algorithm {
	case "sha1":
		return sha1.New, true
	case "sha256":
		return sha256.New, true
	case "sha512":
		return sha512.New, true
	default:
		return nil, false
	}
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
