// SPDX-License-Identifier: MIT
package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies the failures a pipeline run reports to its caller. Pool
// exhaustion and slow chunks are absorbed as skips and never surface alone.
type Kind int

const (
	KindInsufficientData Kind = iota + 1
	KindMalformedSource
	KindTooManySkips
)

func (k Kind) String() string {
	switch k {
	case KindInsufficientData:
		return "insufficient data"
	case KindMalformedSource:
		return "malformed source"
	case KindTooManySkips:
		return "too many skipped chunks"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error type returned by Pipeline.Run.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pipeline %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("pipeline %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a pipeline Error of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}
