package interp

import (
	"fmt"
	"time"
)

// Outcome classifies how a single script run ended.
type Outcome int

const (
	Success Outcome = iota
	OpenFailure
	RuntimeFailure
	CreationFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case OpenFailure:
		return "script-open-failure"
	case RuntimeFailure:
		return "script-runtime-failure"
	case CreationFailure:
		return "instance-creation-failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the per-instance outcome of a script run. It is reported, never
// fed back into shared state.
type Result struct {
	Outcome  Outcome
	Script   string
	Err      error
	Duration time.Duration
}

// OK reports whether the script ran to completion without error.
func (r Result) OK() bool {
	return r.Outcome == Success && r.Err == nil
}
