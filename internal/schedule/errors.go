package schedule

import (
	"errors"
	"strings"
)

// ErrNotFound reports an unknown event id.
var ErrNotFound = errors.New("event not found")

// ErrConflict reports an operation that collides with an in-flight
// activation or an already-active event.
var ErrConflict = errors.New("conflicting operation in progress")

// ValidationError carries every validation failure found in a submitted
// schedule so the caller can report them all at once.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "invalid schedule: " + strings.Join(e.Messages, "; ")
}

// AsValidation unwraps err into a *ValidationError if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
