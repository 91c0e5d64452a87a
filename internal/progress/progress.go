// Package progress defines the events a theater run emits and the reporters
// that consume them. Console output is produced by the stages themselves
// through slog; reporters mirror the same milestones to other sinks.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/actortheater/internal/interp"
)

// Stage identifies a milestone of a theater run.
type Stage string

const (
	StageState            Stage = "state"
	StageWorkerStarted    Stage = "worker_started"
	StageWorkerCancelled  Stage = "worker_cancelled"
	StageWorkerFinished   Stage = "worker_finished"
	StageWorkerJoined     Stage = "worker_joined"
	StagePrimaryStarted   Stage = "primary_started"
	StagePrimaryFinished  Stage = "primary_finished"
	StagePrimarySignalled Stage = "primary_signalled"
)

// PrimaryID is the Worker value of events about the primary script.
const PrimaryID = -1

// Event is one progress notification.
type Event struct {
	Stage  Stage
	Time   time.Time
	Worker int
	Name   string
	Script string
	// State is the coordinator state for StageState events.
	State string
	// Result is set for *_finished events.
	Result *interp.Result
}

// Fields flattens the event into string keys suitable for JSON payloads.
func (e Event) Fields() map[string]any {
	f := map[string]any{
		"stage":  string(e.Stage),
		"time":   e.Time.Format(time.RFC3339Nano),
		"worker": e.Worker,
	}
	if e.Name != "" {
		f["name"] = e.Name
	}
	if e.Script != "" {
		f["script"] = e.Script
	}
	if e.State != "" {
		f["state"] = e.State
	}
	if e.Result != nil {
		f["outcome"] = e.Result.Outcome.String()
		f["duration_ms"] = e.Result.Duration.Milliseconds()
		if e.Result.Err != nil {
			f["error"] = e.Result.Err.Error()
		}
	}
	return f
}

// Reporter receives progress events. Implementations must be safe for
// concurrent use; workers report from their own threads.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, ev Event)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Reporter = ReporterFunc(func(context.Context, Event) {})

type multi []Reporter

func (m multi) Report(ctx context.Context, ev Event) {
	for _, r := range m {
		r.Report(ctx, ev)
	}
}

// Multi fans events out to every non-nil reporter in order.
func Multi(reporters ...Reporter) Reporter {
	var m multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	switch len(m) {
	case 0:
		return Discard
	case 1:
		return m[0]
	}
	return m
}

// Emit stamps ev with the current time when unset and reports it.
func Emit(ctx context.Context, r Reporter, ev Event) {
	if r == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.Report(ctx, ev)
}

// Recorder keeps every event it receives. It is used by tests and by the
// health endpoint's run summary.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report implements Reporter.
func (r *Recorder) Report(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Stages returns the recorded stages in arrival order.
func (r *Recorder) Stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stage, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Stage
	}
	return out
}

// Filter returns the recorded events of the given stage.
func (r *Recorder) Filter(stage Stage) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}
