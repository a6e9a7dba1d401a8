package proto

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is fatal: the connection is dropped.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrOverflow is recovered by prioritization, truncation or repacking.
	ErrOverflow = errors.New("overflow")
	// ErrStaleReference marks a frame whose delta reference is unusable.
	ErrStaleReference = errors.New("stale delta reference")
	// ErrResourceExhausted is fatal for reliable queues.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// ProtocolError describes a malformed or out-of-bounds wire element.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Op + ": " + e.Detail
}

func (e *ProtocolError) Unwrap() error { return ErrProtocolViolation }

// Violation builds a ProtocolError.
func Violation(op, format string, args ...any) error {
	return &ProtocolError{Op: op, Detail: fmt.Sprintf(format, args...)}
}
