package fieldsync

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnauthorized is returned when a 401 survives the single refresh attempt.
// It is fatal for the current session: the gateway clears stored credentials
// before returning it, and an in-progress sync drain aborts on it.
var ErrUnauthorized = errors.New("fieldsync: unauthorized")

// ============================================================================
// APIError
// ============================================================================

// APIError is an application failure: a response was received, but with a
// non-2xx status. API errors are never retried automatically and never
// queued — replaying them later would fail identically.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// ============================================================================
// NetworkError
// ============================================================================

// NetworkError is a transport-level failure: no response was received.
// Always retryable; the queue manager converts it into a queued-mutation
// side effect rather than surfacing it to the caller.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// fetchFailureMessages are transport-failure strings carried over from
// records queued by earlier browser-based clients. Chromium reports
// "Failed to fetch", WebKit "Load failed", Firefox "NetworkError when
// attempting to fetch resource". Matched case-insensitively alongside the
// usual Go transport error texts.
var fetchFailureMessages = []string{
	"failed to fetch",
	"load failed",
	"networkerror when attempting to fetch resource",
	"network request failed",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"unexpected eof",
}

// IsNetworkError reports whether err is a transport-level failure, as
// opposed to an application failure carried in a received response. This
// distinction gates the whole offline policy: network failures defer the
// write, application failures surface immediately.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	// A received response is an application failure no matter what its
	// message says; a proxy quoting "connection refused" in a 502 body must
	// not be mistaken for a transport failure.
	var ae *APIError
	if errors.As(err, &ae) {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fetchFailureMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ============================================================================
// StorageError
// ============================================================================

// StorageError means the durable store could not be accessed. Fatal for the
// operation being attempted: a write that cannot even be queued must be
// propagated, never silently dropped.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageUnavailable reports whether err originated in the durable store.
func IsStorageUnavailable(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
