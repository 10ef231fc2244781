package crawler

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSelfParent rejects writes that would make a category its own parent.
var ErrSelfParent = errors.New("category cannot be its own parent")

// FetchErrorKind classifies page fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout          FetchErrorKind = "timeout"
	FetchConnectionFailed FetchErrorKind = "connection_failed"
	FetchInvalidContent   FetchErrorKind = "invalid_content"
	FetchHTTPStatus       FetchErrorKind = "http_status"
)

// FetchError is returned by fetchers once retries are exhausted or the
// failure is not retryable.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether another attempt may succeed.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchTimeout, FetchConnectionFailed:
		return true
	case FetchHTTPStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// IsTransientFetch reports whether err is a FetchError worth retrying.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient()
	}
	return false
}

// PersistenceError wraps a store failure with the identity of the offending item.
type PersistenceError struct {
	ExternalID string
	ProductURL string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("persist products: %v", e.Err)
	}
	return fmt.Sprintf("persist product %s (%s): %v", e.ExternalID, e.ProductURL, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
