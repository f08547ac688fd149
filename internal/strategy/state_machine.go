package strategy

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateSize}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func nextState(current State, event Event) State {
	if event == EventAbort {
		return StateSize
	}
	switch current {
	case StateSize:
		if event == EventSized {
			return StateOpen
		}
	case StateOpen:
		if event == EventOpened {
			return StateHold
		}
	case StateHold:
		if event == EventHeld {
			return StateClose
		}
	case StateClose:
		if event == EventClosed {
			return StateCooldown
		}
	case StateCooldown:
		if event == EventCooled {
			return StateSize
		}
	}
	return current
}
