package engine

import "fmt"

// SelectorError reports an invalid or failed where-selector: a non-unique
// field used for single-node selection, or zero matches where exactly one
// node was required.
type SelectorError struct {
	Message string
}

func (e *SelectorError) Error() string {
	return "selector error: " + e.Message
}

func selectorErrorf(format string, args ...interface{}) *SelectorError {
	return &SelectorError{Message: fmt.Sprintf(format, args...)}
}

// MutationError reports a failed mutation. The whole enclosing mutation has
// been rolled back by the time this error surfaces.
type MutationError struct {
	Message string
	Err     error
}

func (e *MutationError) Error() string {
	if e.Err != nil {
		return "mutation error: " + e.Message + ": " + e.Err.Error()
	}
	return "mutation error: " + e.Message
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

func mutationErrorf(cause error, format string, args ...interface{}) *MutationError {
	return &MutationError{Message: fmt.Sprintf(format, args...), Err: cause}
}
