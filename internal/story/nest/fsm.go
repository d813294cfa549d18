package nest

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateDisplaying State = "displaying"
	StateTerminal   State = "terminal"
)

const (
	EventStart    Event = "start"
	EventContinue Event = "continue"
	EventChoose   Event = "choose"
	EventLoaded   Event = "loaded"
	EventFinished Event = "finished"
	EventFailed   Event = "failed"
	EventReset    Event = "reset"
)

// Transition returns the state reached from current on event.
func Transition(current State, event Event) (State, error) {
	if event == EventReset {
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateLoading, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateLoading:
		switch event {
		case EventLoaded:
			return StateDisplaying, nil
		case EventFinished:
			return StateTerminal, nil
		case EventFailed:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDisplaying:
		switch event {
		case EventStart, EventContinue, EventChoose:
			return StateLoading, nil
		case EventFinished:
			return StateTerminal, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateTerminal:
		switch event {
		case EventStart:
			return StateLoading, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
