package schedule

import (
	"errors"
	"fmt"
)

// ErrInvariant marks a structural violation: a gap, an overlap, a negative
// duration or a day that does not end in sleep. It is never retried.
var ErrInvariant = errors.New("schedule invariant violated")

// InvariantError describes which operation broke an invariant.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrInvariant, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func invariant(op, format string, args ...any) error {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}
