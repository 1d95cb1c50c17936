package vision

import (
	"errors"
	"fmt"
	"net/http"
)

// InvalidInputError rejects an upload before any provider call is made.
type InvalidInputError struct {
	Detail string
}

func (e *InvalidInputError) Error() string { return e.Detail }

// UpstreamError is a non-success reply from the provider, passed through as is.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Body)
}

// InternalError wraps every other failure: transport errors, malformed provider
// responses, read errors.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return "internal error"
	}
	return e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

// ErrorStatus maps a pipeline error to the HTTP status and detail text shown to callers.
func ErrorStatus(err error) (int, string) {
	var inv *InvalidInputError
	if errors.As(err, &inv) {
		return http.StatusBadRequest, inv.Detail
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		// A success or invalid status on a failed call must not reach the caller as is.
		code := up.StatusCode
		if code < 100 || code > 999 || (code >= 200 && code < 300) {
			code = http.StatusBadGateway
		}
		return code, up.Body
	}
	return http.StatusInternalServerError, err.Error()
}
