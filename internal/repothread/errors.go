package repothread

import (
	"errors"
	"net/http"
)

// Sentinel errors describing the failure taxonomy. GatewayError values match
// these through errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrUpstream   = errors.New("upstream error")
	ErrTimeout    = errors.New("timeout error")
	ErrNetwork    = errors.New("network error")
	ErrNotFound   = errors.New("not found")
)

// GatewayError carries a client-safe message and the status code the gateway
// responds with. Err holds the underlying cause for logging only.
type GatewayError struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the taxonomy sentinel and the cause.
func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ValidationError builds a 400 error.
func ValidationError(msg string) *GatewayError {
	return &GatewayError{Kind: ErrValidation, Status: http.StatusBadRequest, Message: msg}
}

// UpstreamError builds a 500 error for non-2xx or malformed backend responses.
func UpstreamError(msg string, cause error) *GatewayError {
	return &GatewayError{Kind: ErrUpstream, Status: http.StatusInternalServerError, Message: msg, Err: cause}
}

// TimeoutError builds a 504 error for calls that exceeded their budget.
func TimeoutError(msg string, cause error) *GatewayError {
	return &GatewayError{Kind: ErrTimeout, Status: http.StatusGatewayTimeout, Message: msg, Err: cause}
}

// NetworkError builds a 500 error for transport failures.
func NetworkError(msg string, cause error) *GatewayError {
	return &GatewayError{Kind: ErrNetwork, Status: http.StatusInternalServerError, Message: msg, Err: cause}
}

// NotFoundError builds a 404 error.
func NotFoundError(msg string) *GatewayError {
	return &GatewayError{Kind: ErrNotFound, Status: http.StatusNotFound, Message: msg}
}

// StatusFor returns the response status and client-safe message for err.
func StatusFor(err error) (int, string) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Status, gwErr.Message
	}
	return http.StatusInternalServerError, "internal server error"
}
