package calendarsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means no token exists for the routing key.
	ErrNotConnected = errors.New("calendarsync: calendar not connected")

	// ErrTokenRefreshFailed means the refresh token was revoked or rejected.
	// The connection stays unusable until the owner reconnects.
	ErrTokenRefreshFailed = errors.New("calendarsync: token refresh failed, reconnect required")
)

// ProviderError wraps a failed call to the calendar provider.
type ProviderError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("calendarsync: %s timed out: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("calendarsync: %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("calendarsync: %s failed: %v", e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed. Client errors
// other than throttling and auth expiry are permanent.
func (e *ProviderError) Retryable() bool {
	if e.Timeout || e.StatusCode == 0 {
		return true
	}
	switch e.StatusCode {
	case 401, 408, 409, 429:
		return true
	}
	return e.StatusCode >= 500
}

// IsRetryable reports whether err carries a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}
