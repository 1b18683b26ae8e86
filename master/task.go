package master

import (
	"time"

	"github.com/pascaldekloe/dnp3/objects"
)

// Task is the uniform contract the scheduler drives every outstation
// operation through: build a request fragment, react to the matching
// response (or its absence), and optionally chain into a follow-up task.
type Task interface {
	// Function returns the application function code for the request
	// this task is about to send.
	Function() objects.FunctionCode

	// Write encodes the request's object headers.
	Write(w *objects.HeaderWriter) error

	// OnTaskError is invoked when the task fails: on timeout, shutdown, a
	// disabled channel or a missing connection, and with ReasonBadResponse
	// when Write or Handle returns an error.
	OnTaskError(reason TaskErrorReason, err error)

	// Handle reacts to a response fragment matched to this task's
	// request. It returns the outcome: completion, or a follow-up task
	// to run immediately (used by multi-step tasks such as
	// select-before-operate and file transfers). An error fails the
	// task; Handle is not expected to call OnTaskError itself.
	Handle(resp objects.ParsedFragment) (Outcome, error)

	// ReadTask reports whether this task drives the multi-fragment read
	// cycle (FIR/FIN/CON spanning several responses) rather than the
	// simple non-read cycle that requires FIR and FIN together on a
	// single response.
	ReadTask() bool
}

// Outcome is what a Task's Handle returns: either the task is done, or
// execution continues immediately with Next.
type Outcome struct {
	Done bool
	Next Task
}

// Complete reports that a task finished successfully with nothing further
// to run.
func Complete() Outcome { return Outcome{Done: true} }

// Continue chains into next without waiting for a new demand; used by
// select-before-operate (select -> operate) and file transfer (open ->
// read/write loop -> close).
func Continue(next Task) Outcome { return Outcome{Next: next} }

// TimedTask is an optional Task extension: the scheduler calls
// RecordRoundTrip with the request-to-response elapsed time immediately
// before Handle, for tasks (time synchronization) whose response processing
// needs it.
type TimedTask interface {
	Task
	RecordRoundTrip(rtt time.Duration)
}

// requireNonReadComplete applies the non-read response rule common to
// restart, auto and command tasks: the response must arrive as a single
// FIR+FIN fragment and must not carry a rejecting IIN2.
func requireNonReadComplete(resp objects.ParsedFragment) error {
	if !(resp.Control.Fir && resp.Control.Fin) {
		return ErrMultiFragmentResponse
	}
	if resp.IIN.Rejected() {
		return RejectedByIin2{IIN: resp.IIN}
	}
	return nil
}
