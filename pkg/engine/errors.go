package engine

import (
	"errors"
	"fmt"
)

// ErrInternal marks an unexpected node defect. Unlike handler
// unavailability, it fails the whole invocation.
var ErrInternal = errors.New("engine internal error")

// InternalError wraps a node defect with the node it came from.
type InternalError struct {
	Node NodeID
	Err  error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}

// UndeclaredEdgeError reports a transition the graph does not declare.
// Always a programming error.
type UndeclaredEdgeError struct {
	From NodeID
	To   NodeID
}

func (e *UndeclaredEdgeError) Error() string {
	return fmt.Sprintf("undeclared graph edge %s -> %s", e.From, e.To)
}

func (e *UndeclaredEdgeError) Is(target error) bool {
	return target == ErrInternal
}
