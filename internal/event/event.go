package event

import "time"

// Phase identifies where a task is in its lifecycle.
type Phase int

const (
	Started Phase = iota + 1
	Progress
	Completed
	Failed
	Skipped
)

var phaseNames = [...]string{
	Started:   "Started",
	Progress:  "Progress",
	Completed: "Completed",
	Failed:    "Failed",
	Skipped:   "Skipped",
}

func (p Phase) String() string {
	if p > 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Unknown"
}

// Terminal reports whether no further events follow this phase for a task.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed || p == Skipped
}

// ProgressEvent is a single progress report for one transfer task.
// BytesTransferred counts bytes present at the destination, so a resumed
// task starts at its resume offset.
type ProgressEvent struct {
	TaskID           string
	Source           string
	Destination      string
	BytesTransferred uint64
	TotalBytes       uint64
	Phase            Phase
	Err              error
	Timestamp        time.Time
}

// Sink receives progress events. Implementations must not block.
type Sink interface {
	OnEvent(ProgressEvent)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ProgressEvent)

func (f SinkFunc) OnEvent(e ProgressEvent) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(ProgressEvent) {})

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) OnEvent(e ProgressEvent) {
	for _, s := range m {
		s.OnEvent(e)
	}
}
