package forward

import (
	"errors"
	"fmt"
)

// ErrNoRoot reports that the dispersion root search found no sign change of
// the secular function inside the bracket for some period.
var ErrNoRoot = errors.New("no dispersion root in search bracket")

// ModelError marks a forward computation that failed because the candidate
// model is non-physical or numerically degenerate for the requested
// observation geometry. The misfit evaluator absorbs these by assigning a
// sentinel misfit; they never abort a run.
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

func modelErrorf(op, format string, args ...any) error {
	return &ModelError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsModelError reports whether err is a recoverable forward-model failure.
func IsModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me)
}
