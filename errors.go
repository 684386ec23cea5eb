package hive_mr3

import (
	"errors"
	"fmt"
)

// ErrAborted is the cancellation-class error used when an attempt must fail
// because abort was requested. It is synthesized by the controller when the
// cancellation flag is found set after the record processor returned cleanly.
var ErrAborted = errors.New("abort was requested for the task attempt")

// ErrProcessorAborted is returned from a RecordProcessor's Run once a
// concurrent Abort has taken effect and the processing loop stopped.
var ErrProcessorAborted = errors.New("record processor aborted")

// ErrRunAlreadyCalled is returned when Run is invoked a second time on the
// same controller.  A controller drives exactly one attempt.
var ErrRunAlreadyCalled = errors.New("Run was already called on this controller")

// ErrCollectorNotInitialized is returned by KVOutputCollector.Collect when
// the underlying writer has not been bound yet.
var ErrCollectorNotInitialized = errors.New("output collector used before Initialize")

// FatalError marks an unrecoverable runtime fault, as opposed to an ordinary
// processing failure.  The controller skips the processor's Close step for
// fatal faults because the processor's internal state cannot be trusted.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal runtime fault: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// isCancellationClass reports whether err originates from an abort request,
// either raised by the processor itself or synthesized by the controller.
func isCancellationClass(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, ErrProcessorAborted)
}

// AttemptError carries structured information about a task-attempt failure.
type AttemptError struct {
	AttemptID string
	Phase     string
	Err       error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %s failed in %s phase: %v", e.AttemptID, e.Phase, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// OutcomeClass identifies the terminal result of a task attempt.
type OutcomeClass int

// OutcomeUnresolved through OutcomeCancelledBeforeStart are the terminal
// classes an attempt can resolve to.  Every class except OutcomeCompleted and
// OutcomeCancelledBeforeStart triggers the cleanup side effect exactly once.
const (
	OutcomeUnresolved OutcomeClass = iota
	OutcomeCompleted
	OutcomeRecoverableFailure
	OutcomeFatalFailure
	OutcomeCancelled
	OutcomeCancelledBeforeStart
)

func (c OutcomeClass) String() string {
	switch c {
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeCompleted:
		return "completed"
	case OutcomeRecoverableFailure:
		return "recoverable-failure"
	case OutcomeFatalFailure:
		return "fatal-failure"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeCancelledBeforeStart:
		return "cancelled-before-start"
	default:
		return "unknown"
	}
}

// Outcome is the terminal envelope of an attempt: a class plus the cause that
// produced it.  A zero Outcome means the attempt has not resolved yet.
type Outcome struct {
	class OutcomeClass
	cause error
}

// CompletedOutcome returns the envelope for a clean run with no observed
// cancellation race.
func CompletedOutcome() Outcome {
	return Outcome{class: OutcomeCompleted}
}

// FailedOutcome returns the envelope for an ordinary processing failure.
func FailedOutcome(cause error) Outcome {
	return Outcome{class: OutcomeRecoverableFailure, cause: cause}
}

// FatalOutcome returns the envelope for an unrecoverable runtime fault.
func FatalOutcome(cause error) Outcome {
	return Outcome{class: OutcomeFatalFailure, cause: cause}
}

// CancelledOutcome returns the envelope for an aborted attempt, including one
// whose processor returned cleanly before the race was detected.
func CancelledOutcome(cause error) Outcome {
	return Outcome{class: OutcomeCancelled, cause: cause}
}

// CancelledBeforeStartOutcome returns the envelope for an abort delivered
// before the record processor was created.  Nothing ran, nothing to clean.
func CancelledBeforeStartOutcome() Outcome {
	return Outcome{class: OutcomeCancelledBeforeStart}
}

// Class returns the outcome class.
func (o Outcome) Class() OutcomeClass { return o.class }

// Cause returns the error that produced the outcome, or nil.
func (o Outcome) Cause() error { return o.cause }

// IsError reports whether the attempt ended with a cause attached.
func (o Outcome) IsError() bool { return o.cause != nil }
