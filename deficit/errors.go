package deficit

import (
	"errors"
	"fmt"

	"github.com/warp/deficit-engine/generic"
)

// ErrInvariant means a mutation would have left a record inconsistent. It is
// a programming error, never a client error.
var ErrInvariant = errors.New("record invariant violated")

// SinkError reports which document copy could not be produced.
// Copy 1 failures leave the record untouched; copy 2 failures keep copy 1.
type SinkError struct {
	RecordID generic.RecordID
	Copy     int
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("could not produce copy %d of the settlement document for %s: %v", e.Copy, e.RecordID, e.Err)
}

func (e *SinkError) Unwrap() []error {
	return []error{generic.ErrSinkUnavailable, e.Err}
}

// TransitionError is returned when a workflow action is not accepted in the
// record's current stage.
type TransitionError struct {
	RecordID generic.RecordID
	Action   Action
	Stage    Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s record %s in stage %s", e.Action, e.RecordID, e.Stage)
}

func (e *TransitionError) Unwrap() error {
	return generic.ErrInvalidTransition
}

// InvariantError names the rule a rejected commit broke.
type InvariantError struct {
	RecordID generic.RecordID
	Rule     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("record %s: %s", e.RecordID, e.Rule)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func invalid(field, reason string) error {
	return &generic.ValidationError{Field: field, Reason: reason}
}
