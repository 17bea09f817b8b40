package stream

import (
	"errors"
	"fmt"
)

// ErrValidation marks a malformed client frame. Reported to the client;
// the connection stays open.
var ErrValidation = errors.New("invalid client frame")

// ValidationError carries the field-level reason a frame was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid frame: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
