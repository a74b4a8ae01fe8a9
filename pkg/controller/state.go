package controller

import (
	"fmt"
	"sync/atomic"

	"github.com/menta2k/gridpilot/pkg/action"
)

// State is the lifecycle state of the control loop
type State int

const (
	Idle State = iota
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is how a run ended
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeError
	OutcomeMaxIterationsExceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeError:
		return "error"
	case OutcomeMaxIterationsExceeded:
		return "max_iterations"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText implements encoding.TextMarshaler
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ReasonUserCancelled is the reason of a run ended by a stop request
const ReasonUserCancelled = "user-cancelled"

// Result describes a finished run
type Result struct {
	RunID      string         `json:"run_id"`
	Command    string         `json:"command"`
	Outcome    Outcome        `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	Iterations int            `json:"iterations"`
	History    []action.Entry `json:"history"`
}

// CancellationSource is polled once at the start of every iteration
type CancellationSource interface {
	StopRequested() bool
}

// StopFlag is a CancellationSource that any goroutine can trip
type StopFlag struct {
	v atomic.Bool
}

var _ CancellationSource = (*StopFlag)(nil)

// Request asks the loop to stop before its next iteration
func (f *StopFlag) Request() { f.v.Store(true) }

// Reset clears a pending request
func (f *StopFlag) Reset() { f.v.Store(false) }

// StopRequested implements CancellationSource
func (f *StopFlag) StopRequested() bool { return f.v.Load() }
