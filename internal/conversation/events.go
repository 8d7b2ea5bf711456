package conversation

import "mai-chat/internal/domain"

// State is the dispatch state of a Controller.
type State int

const (
	StateIdle State = iota
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}

type EventType string

const (
	EventTurnAppended  EventType = "turn_appended"
	EventStateChanged  EventType = "state_changed"
	EventErrorSurfaced EventType = "error_surfaced"
)

// Event is emitted to listeners after the controller has released its lock.
// Only the field matching Type is set, apart from RequestID which is set for
// every event raised while handling a dispatch.
type Event struct {
	Type      EventType
	RequestID string
	Turn      domain.Turn
	State     State
	Err       *ClassifiedError
}

// Listener consumes controller events. It runs on the goroutine that called
// Submit and must not call Submit itself.
type Listener func(Event)
