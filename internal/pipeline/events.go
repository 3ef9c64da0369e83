package pipeline

import "sync"

// Event names published during a run.
const (
	EventRunStart    = "run.start"
	EventRunDone     = "run.done"
	EventStepStart   = "step.start"
	EventStepDone    = "step.done"
	EventStepFailed  = "step.failed"
	EventStepSkipped = "step.skipped"
	EventUploadStart = "upload.start"
	EventUploadDone  = "upload.done"
)

// Event represents a pipeline lifecycle event.
// Minimal and stable: name + step and optional fields via key/values.
type Event struct {
	Name   string
	Step   string
	Fields map[string]any
}

// EventPublisher receives events from the pipeline. Implementations should be
// lightweight and non-blocking; Publish must not panic. Upload events arrive
// from the upload goroutine.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MultiPublisher fans an event out to several publishers in order.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
