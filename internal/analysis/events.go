package analysis

import "time"

// EventType names a step in the life of one analysis.
type EventType string

const (
	EventStarted        EventType = "started"
	EventCacheHit       EventType = "cache_hit"
	EventStageCompleted EventType = "stage_completed"
	EventStageFailed    EventType = "stage_failed"
	EventEscalated      EventType = "escalated"
	EventCompleted      EventType = "completed"
	EventDegraded       EventType = "degraded"
)

// Event is emitted to observers as an analysis progresses.
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Stage      int       `json:"stage,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Cost       float64   `json:"cost,omitempty"`
	Message    string    `json:"message,omitempty"`
	Summary    *Summary  `json:"summary,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Observer receives analysis events. Implementations must not block.
type Observer interface {
	OnAnalysisEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnAnalysisEvent calls f.
func (f ObserverFunc) OnAnalysisEvent(e Event) { f(e) }
