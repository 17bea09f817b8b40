package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerNotFound indicates the name is not in the registry.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrHandlerUnavailable indicates the handler process is not running
	// or not healthy. Callers degrade rather than fail.
	ErrHandlerUnavailable = errors.New("handler unavailable")

	// ErrHandlerTimeout indicates a handler call exceeded its bounded
	// wait. Treated identically to ErrHandlerUnavailable by callers.
	ErrHandlerTimeout = errors.New("handler timeout")
)

// NotFoundError reports an unregistered handler name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("handler not found: %s", e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrHandlerNotFound
}

// PortConflictError reports a registration whose port is already claimed.
type PortConflictError struct {
	Port      int
	Owner     string
	Requested string
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("port %d already registered to %s, requested by %s", e.Port, e.Owner, e.Requested)
}

// UnavailableError reports a handler that could not serve a call.
type UnavailableError struct {
	Name string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("handler %s unavailable: %v", e.Name, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool {
	return target == ErrHandlerUnavailable
}

// TimeoutError reports a handler call that exceeded its bounded wait.
type TimeoutError struct {
	Name string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("handler %s timed out: %v", e.Name, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool {
	return target == ErrHandlerTimeout || target == ErrHandlerUnavailable
}
