package schemas

import (
	"context"
)

// -- Instruction Interfaces --

// InstructionSource supplies instructions to a session one at a time. It
// returns ok=false once the source is exhausted.
type InstructionSource interface {
	Next(ctx context.Context) (instr Instruction, ok bool, err error)
}

// Planner converts a goal into an ordered sequence of instructions.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) ([]Instruction, error)
}

// PlanRequest is the input to a Planner.
type PlanRequest struct {
	Goal    string `json:"goal"`
	URL     string `json:"url"`
	Persona string `json:"persona,omitempty"`
}

// SliceSource is an InstructionSource over a pre-planned sequence.
type SliceSource struct {
	items []Instruction
	pos   int
}

// NewSliceSource returns a source that yields items in order.
func NewSliceSource(items []Instruction) *SliceSource {
	return &SliceSource{items: items}
}

// Next implements InstructionSource.
func (s *SliceSource) Next(ctx context.Context) (Instruction, bool, error) {
	if err := ctx.Err(); err != nil {
		return Instruction{}, false, err
	}
	if s.pos >= len(s.items) {
		return Instruction{}, false, nil
	}
	instr := s.items[s.pos]
	s.pos++
	return instr, true, nil
}

// Remaining returns the number of instructions not yet consumed.
func (s *SliceSource) Remaining() int {
	return len(s.items) - s.pos
}

// -- Store Interface --

// HistoryStore persists finished session reports.
type HistoryStore interface {
	SaveSession(ctx context.Context, report *SessionReport) error
}
