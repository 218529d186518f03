package console

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDestroyed is returned by Manager operations invoked after Destroy.
var ErrDestroyed = errors.New("session manager destroyed")

// APIError is a non-2xx response from the daemon. Message carries the
// response body's "detail" field when present, otherwise a status-derived
// text.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// ConnectionError wraps a transport-level failure to reach the daemon.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", e.Op, e.After)
}

// NotFoundError reports a capability that no known server provides.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// AmbiguousToolError reports a tool name owned by more than one server. The
// caller must retry with an explicit server id.
type AmbiguousToolError struct {
	Name      string
	ServerIDs []string
}

func (e *AmbiguousToolError) Error() string {
	return fmt.Sprintf("tool %q is provided by multiple servers: %s", e.Name, strings.Join(e.ServerIDs, ", "))
}

// ValidationError reports required arguments missing from a tool or prompt
// invocation, detected before any request is sent.
type ValidationError struct {
	Subject string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing required arguments: %s", e.Subject, strings.Join(e.Missing, ", "))
}
