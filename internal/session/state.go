package session

import (
	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// Phase is the session state machine's current state.
type Phase int

const (
	PhaseReady Phase = iota
	PhaseNavigating
	PhaseExecuting
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseNavigating:
		return "navigating"
	case PhaseExecuting:
		return "executing"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// State is the mutable record of one session.
type State struct {
	StepCount  int
	MaxSteps   int
	CurrentURL string
	Cache      *SchemaCache
	History    []schemas.StepResult
}

func newState(maxSteps, cacheSize int) *State {
	return &State{
		MaxSteps: maxSteps,
		Cache:    NewSchemaCache(cacheSize),
	}
}

// budgetExhausted reports whether one more step would exceed the budget.
func (s *State) budgetExhausted() bool {
	return s.StepCount+1 > s.MaxSteps
}

func (s *State) record(r schemas.StepResult) {
	s.History = append(s.History, r)
}
