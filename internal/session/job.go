package session

import (
	"context"
	"errors"
	"sync/atomic"
)

// CancelCause says why a job was cancelled.
type CancelCause int

const (
	// SupersededByNewMessage: a newer message in the same chat took over.
	SupersededByNewMessage CancelCause = iota + 1
	// UserRequestedStop: the user pressed the stop control.
	UserRequestedStop
	// Shutdown: the process is stopping.
	Shutdown
)

func (c CancelCause) String() string {
	switch c {
	case SupersededByNewMessage:
		return "superseded by new message"
	case UserRequestedStop:
		return "user requested stop"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Cancelled is the context cause of a cancelled job. It is not a failure.
type Cancelled struct {
	Cause CancelCause
}

func (e *Cancelled) Error() string {
	return "job cancelled: " + e.Cause.String()
}

// CauseOf extracts the cancel cause from err, if it is a cancellation.
func CauseOf(err error) (CancelCause, bool) {
	var c *Cancelled
	if errors.As(err, &c) {
		return c.Cause, true
	}
	return 0, false
}

// State is a job's lifecycle position.
type State int32

const (
	Running State = iota
	Completed
	Canceled
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Canceled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	return s != Running
}

// Job is one cancellable unit of work for a chat.
type Job struct {
	ID     string
	ChatID int64

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	state  atomic.Int32
	err    error
}

// Cancel requests cooperative cancellation. Only the first cause sticks.
func (j *Job) Cancel(cause CancelCause) {
	j.cancel(&Cancelled{Cause: cause})
}

// Alive reports whether the job may still produce side effects.
func (j *Job) Alive() bool {
	return j.ctx.Err() == nil
}

// Done is closed once the job's function has returned.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) State() State {
	return State(j.state.Load())
}

// Err returns the job's result once Done is closed.
func (j *Job) Err() error {
	<-j.done
	return j.err
}

func (j *Job) finish(err error) {
	j.err = err
	switch {
	case err == nil:
		j.state.Store(int32(Completed))
	case isCancellation(err) || isCancellation(context.Cause(j.ctx)):
		j.state.Store(int32(Canceled))
	default:
		j.state.Store(int32(Failed))
	}
}

func isCancellation(err error) bool {
	_, ok := CauseOf(err)
	return ok
}
