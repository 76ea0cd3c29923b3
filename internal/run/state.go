package run

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StateStreaming State = "streaming"
	StateDeferred  State = "deferred"
)

const (
	EventSubmit    Event = "submit"
	EventDelta     Event = "delta"
	EventDefer     Event = "defer"
	EventResolve   Event = "resolve"
	EventSupersede Event = "supersede"
)

func Transition(current State, event Event) (State, error) {
	if event == EventSupersede {
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventSubmit:
			return StateSubmitted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSubmitted:
		switch event {
		case EventDelta:
			return StateStreaming, nil
		case EventDefer:
			return StateDeferred, nil
		case EventResolve:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStreaming:
		switch event {
		case EventDelta:
			return StateStreaming, nil
		case EventDefer:
			return StateDeferred, nil
		case EventResolve:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDeferred:
		switch event {
		case EventDefer:
			return StateDeferred, nil
		case EventResolve:
			return StateIdle, nil
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
