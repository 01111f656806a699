package workflow

import "sync/atomic"

// EventType names a controller notification.
type EventType string

const (
	EventFileStarted    EventType = "file-started"
	EventStageChanged   EventType = "stage-changed"
	EventFileCompleted  EventType = "file-completed"
	EventProgress       EventType = "progress"
	EventBatchCompleted EventType = "batch-completed"
)

// Event is a notification from the controller. Every payload is a snapshot.
type Event struct {
	Type     EventType     `json:"type"`
	BatchID  string        `json:"batch_id"`
	Task     *TaskSnapshot `json:"task,omitempty"`
	Progress Progress      `json:"progress"`
	Summary  *Summary      `json:"summary,omitempty"`
}

// Reporter receives controller events. Report is called on the worker
// goroutine, so it must not block for long.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

type noopReporter struct{}

func (noopReporter) Report(Event) {}

type multiReporter []Reporter

func (m multiReporter) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// Reporters fans events out to every non-nil reporter.
func Reporters(rs ...Reporter) Reporter {
	out := make(multiReporter, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// ChannelReporter delivers events on a buffered channel. When the buffer is
// full the event is dropped rather than stalling the worker.
type ChannelReporter struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelReporter creates a ChannelReporter with the given buffer size.
func NewChannelReporter(size int) *ChannelReporter {
	return &ChannelReporter{ch: make(chan Event, size)}
}

func (r *ChannelReporter) Report(e Event) {
	select {
	case r.ch <- e:
	default:
		r.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (r *ChannelReporter) Events() <-chan Event {
	return r.ch
}

// Dropped returns how many events were discarded.
func (r *ChannelReporter) Dropped() int64 {
	return r.dropped.Load()
}

// Close closes the channel. Call it only after the controller's Run returned.
func (r *ChannelReporter) Close() {
	close(r.ch)
}
