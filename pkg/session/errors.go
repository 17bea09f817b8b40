package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheUnavailable indicates the hot tier could not be reached.
	// Callers swallow this and fall back to the durable tier.
	ErrCacheUnavailable = errors.New("session cache unavailable")

	// ErrHistoryUnavailable indicates the durable tier could not be
	// reached. Fatal for operations that require history.
	ErrHistoryUnavailable = errors.New("session history unavailable")
)

// CacheError wraps a hot-tier failure with the affected session.
type CacheError struct {
	SessionID string
	Err       error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("session cache failure for %s: %v", e.SessionID, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func (e *CacheError) Is(target error) bool {
	return target == ErrCacheUnavailable
}

// HistoryError wraps a durable-tier failure with the affected session.
type HistoryError struct {
	SessionID string
	Err       error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("session history failure for %s: %v", e.SessionID, e.Err)
}

func (e *HistoryError) Unwrap() error { return e.Err }

func (e *HistoryError) Is(target error) bool {
	return target == ErrHistoryUnavailable
}
