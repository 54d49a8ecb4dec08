package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ListenerErrorBadInput        = "LISTENER_BAD_INPUT"
	ListenerErrorAuthFailed      = "LISTENER_AUTH_FAILED"
	ListenerErrorHubRejected     = "LISTENER_HUB_REJECTED"
	ListenerErrorProfileNotFound = "LISTENER_PROFILE_NOT_FOUND"
	ListenerErrorTransport       = "LISTENER_TRANSPORT_FAILED"
	ListenerErrorUnauthorized    = "LISTENER_UNAUTHORIZED"
	ListenerErrorInternal        = "LISTENER_INTERNAL_ERROR"
)

// BadInputError builds a ValidationError: always local, never retried,
// surfaced synchronously to the caller.
func BadInputError(message string, metadata map[string]any) error {
	return listenerError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ListenerErrorBadInput, metadata)
}

// AuthError wraps a token grant or validation failure. Never swallowed: no
// forward progress is possible without credentials.
func AuthError(source error, message string, metadata map[string]any) error {
	return listenerWrapError(source, goerrors.CategoryAuth, message, http.StatusUnauthorized, ListenerErrorAuthFailed, metadata)
}

// HubError reports a non-accepted hub response and carries the raw remote
// body for diagnostics.
func HubError(message string, body []byte, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["response_body"] = string(body)
	return listenerError(message, goerrors.CategoryOperation, http.StatusBadGateway, ListenerErrorHubRejected, metadata)
}

// NotFoundError reports an empty subject profile lookup.
func NotFoundError(message string, metadata map[string]any) error {
	return listenerError(message, goerrors.CategoryNotFound, http.StatusNotFound, ListenerErrorProfileNotFound, metadata)
}

// TransportError wraps a generic network failure from an outbound call.
func TransportError(source error, message string, metadata map[string]any) error {
	return listenerWrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, ListenerErrorTransport, metadata)
}

// UnauthorizedError reports an inbound request that failed the signature
// gate. The router maps it to a 401 without invoking any handler.
func UnauthorizedError(message string, metadata map[string]any) error {
	return listenerError(message, goerrors.CategoryAuthz, http.StatusUnauthorized, ListenerErrorUnauthorized, metadata)
}

func InternalError(message string, metadata map[string]any) error {
	return listenerError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ListenerErrorInternal, metadata)
}

// IsTextCode reports whether err carries the given listener text code.
func IsTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), strings.TrimSpace(textCode))
}

func listenerError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func listenerWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return listenerError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
