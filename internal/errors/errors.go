// Package errors defines the error taxonomy of the notification pipeline.
package errors

import (
	"errors"
	"fmt"
)

// UpstreamDataError indicates the market data source answered with a
// non-success HTTP status.
type UpstreamDataError struct {
	Status  int
	Message string
}

func (e *UpstreamDataError) Error() string {
	return fmt.Sprintf("upstream data error: status %d: %s", e.Status, e.Message)
}

// NewUpstreamDataError creates an UpstreamDataError for the given status.
func NewUpstreamDataError(status int, message string) *UpstreamDataError {
	return &UpstreamDataError{Status: status, Message: message}
}

// NetworkError indicates the market data source could not be reached at all.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(cause error) *NetworkError {
	return &NetworkError{Cause: cause}
}

// StorageReadError indicates a read against the persistent KV store failed.
// The frequency gate fails open on this error; other callers log and skip the
// affected item.
type StorageReadError struct {
	Key   string
	Cause error
}

func (e *StorageReadError) Error() string {
	return fmt.Sprintf("storage read error for %s: %v", e.Key, e.Cause)
}

func (e *StorageReadError) Unwrap() error { return e.Cause }

// NewStorageReadError wraps a failed KV read with the key involved.
func NewStorageReadError(key string, cause error) *StorageReadError {
	return &StorageReadError{Key: key, Cause: cause}
}

// ProviderSendError indicates the email provider rejected or failed a send
// attempt. It is retried by the delivery queue's backoff policy; exhausted
// retries produce a dead-letter record rather than a surfaced error.
type ProviderSendError struct {
	Status  int
	Message string
	Cause   error
}

func (e *ProviderSendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider send error: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider send error: %s", e.Message)
}

func (e *ProviderSendError) Unwrap() error { return e.Cause }

// NewProviderSendError creates a ProviderSendError.
func NewProviderSendError(status int, message string, cause error) *ProviderSendError {
	return &ProviderSendError{Status: status, Message: message, Cause: cause}
}

// IsUpstreamUnavailable reports whether err means the market data source is
// unreachable or unhealthy, in which case callers may serve a stale cached
// snapshot instead.
func IsUpstreamUnavailable(err error) bool {
	var upstream *UpstreamDataError
	var network *NetworkError
	return errors.As(err, &upstream) || errors.As(err, &network)
}
