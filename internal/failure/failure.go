// Package failure classifies the errors a collection run can run into.
// Source-level kinds are absorbed by the dispatcher; run-level kinds are
// recorded by the collection task as the cause of the last failure.
package failure

import (
	"errors"
	"fmt"

	"github.com/Guliveer/databot/internal/address"
)

// Kind identifies a class of failure.
type Kind string

const (
	// SourceStart: a metric source could not be started.
	SourceStart Kind = "source_start"
	// SourceCollect: a started source failed while collecting.
	SourceCollect Kind = "source_collect"
	// QueueFull: the hand-off queue had no room for the run's event.
	QueueFull Kind = "queue_full"
	// Cancelled: the run was abandoned because its context was cancelled.
	Cancelled Kind = "cancelled"
	// Unexpected: anything else, including recovered panics.
	Unexpected Kind = "unexpected"
)

// Error carries a Kind and, for source-level failures, the address involved.
type Error struct {
	Kind    Kind
	Address address.Address
	Err     error
}

func (e *Error) Error() string {
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case !e.Address.IsZero() && msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Address, msg)
	case !e.Address.IsZero():
		return fmt.Sprintf("%s: %s", e.Kind, e.Address)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind to err. A nil err yields a bare kind error.
func Wrap(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// WrapSource attaches a kind and the source address to err.
func WrapSource(kind Kind, a address.Address, err error) error {
	return &Error{Kind: kind, Address: a, Err: err}
}

// FromPanic converts a recovered panic value into an Unexpected failure.
// Error values stay reachable through errors.Is / errors.As.
func FromPanic(r any) error {
	if err, ok := r.(error); ok {
		return &Error{Kind: Unexpected, Err: fmt.Errorf("panic: %w", err)}
	}
	return &Error{Kind: Unexpected, Err: fmt.Errorf("panic: %v", r)}
}

// KindOf returns the kind of the outermost failure.Error in err's chain, or
// Unexpected when there is none. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unexpected
}

// LogMessage renders err as "message (Kind)" for log lines.
func LogMessage(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s)", err.Error(), KindOf(err))
}
