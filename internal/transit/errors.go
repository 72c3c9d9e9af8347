package transit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AuthError means no identity token was available for the call.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transport failure: DNS, refused connection, TLS, timeout.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: unable to connect to API at %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = e.Status
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

// SchemaError is a 2xx response whose payload does not match the expected shape.
type SchemaError struct {
	Endpoint string
	Err      error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s response: %v", e.Endpoint, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Kind classifies err for logs and metric labels.
func Kind(err error) string {
	var (
		authErr   *AuthError
		netErr    *NetworkError
		httpErr   *HTTPError
		schemaErr *SchemaError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
