package domain

import "time"

// EventKind discriminates the progress/data event union emitted by a plan run.
// Progress kinds carry Label/Detail for human consumption; data kinds carry a
// typed payload for machine consumption.
type EventKind string

const (
	// Progress events
	EventThinking       EventKind = "thinking"
	EventSearching      EventKind = "searching"
	EventSearchComplete EventKind = "search_complete"
	EventWriting        EventKind = "writing"
	EventComplete       EventKind = "complete"
	EventError          EventKind = "error"

	// Data events
	EventSearchResults    EventKind = "search_results"
	EventFindings         EventKind = "findings"
	EventReasoning        EventKind = "reasoning"
	EventPlanModification EventKind = "plan_modification"
	EventDone             EventKind = "done"
)

// Event is one entry in the discriminated stream a plan run emits. Exactly
// the payload fields matching Kind are populated; everything else is zero.
type Event struct {
	Kind      EventKind `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	StepIndex int       `json:"step_index"`

	// Progress payload
	Label  string       `json:"label,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Action *AgentAction `json:"action,omitempty"`

	// Data payloads
	SearchResults []SearchResult `json:"search_results,omitempty"`
	Findings      string         `json:"findings,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
	Plan          *Plan          `json:"plan,omitempty"`
	Err           string         `json:"error,omitempty"`
}

// EventHandler receives each event kind through a dedicated method so that
// adding a kind is a compile-visible change for every consumer.
type EventHandler interface {
	HandleThinking(e Event)
	HandleSearching(e Event)
	HandleSearchComplete(e Event)
	HandleWriting(e Event)
	HandleComplete(e Event)
	HandleError(e Event)
	HandleSearchResults(e Event)
	HandleFindings(e Event)
	HandleReasoning(e Event)
	HandlePlanModification(e Event)
	HandleDone(e Event)
}

// Dispatch routes an event to the handler method matching its kind. The
// switch is exhaustive over EventKind; unknown kinds are dropped.
func Dispatch(h EventHandler, e Event) {
	switch e.Kind {
	case EventThinking:
		h.HandleThinking(e)
	case EventSearching:
		h.HandleSearching(e)
	case EventSearchComplete:
		h.HandleSearchComplete(e)
	case EventWriting:
		h.HandleWriting(e)
	case EventComplete:
		h.HandleComplete(e)
	case EventError:
		h.HandleError(e)
	case EventSearchResults:
		h.HandleSearchResults(e)
	case EventFindings:
		h.HandleFindings(e)
	case EventReasoning:
		h.HandleReasoning(e)
	case EventPlanModification:
		h.HandlePlanModification(e)
	case EventDone:
		h.HandleDone(e)
	}
}
