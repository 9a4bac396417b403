package provider

import (
	"errors"
	"fmt"
)

// Error is an upstream provider failure, either HTTP-level or reported in
// the response body's status wrapper.
type Error struct {
	Code       int    `json:"status_code"`
	Message    string `json:"status_msg"`
	HTTPStatus int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s (code=%d, http=%d)", e.Message, e.Code, e.HTTPStatus)
}

// IsRateLimit reports whether the provider throttled the request.
func (e *Error) IsRateLimit() bool {
	return e.Code == 1002 || e.HTTPStatus == 429
}

// IsAuth reports an invalid or missing API key.
func (e *Error) IsAuth() bool {
	return e.Code == 1001 || e.HTTPStatus == 401
}

// IsServerError reports a provider-side failure.
func (e *Error) IsServerError() bool {
	return e.Code >= 5000 || e.HTTPStatus >= 500
}

// Retryable reports whether the request may be retried.
func (e *Error) Retryable() bool {
	return e.IsRateLimit() || e.IsServerError()
}

// AsError extracts *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
