package schemas

import "time"

// TerminationReason explains why a session stopped.
type TerminationReason string

const (
	ReasonExhausted  TerminationReason = "exhausted"
	ReasonBudget     TerminationReason = "budget"
	ReasonDone       TerminationReason = "done"
	ReasonStepFailed TerminationReason = "step_failed"
	ReasonTransport  TerminationReason = "transport"
	ReasonCanceled   TerminationReason = "canceled"
)

// SessionReport is the externally visible summary of one finished session.
type SessionReport struct {
	SessionID  string            `json:"session_id"`
	Target     string            `json:"target"`
	Goal       string            `json:"goal,omitempty"`
	Persona    string            `json:"persona,omitempty"`
	Reason     TerminationReason `json:"reason"`
	Error      string            `json:"error,omitempty"`
	Steps      int               `json:"steps"`
	MaxSteps   int               `json:"max_steps"`
	FinalURL   string            `json:"final_url"`
	FinalTitle string            `json:"final_title"`
	History    []StepResult      `json:"history"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Screenshot []byte            `json:"-"`
}

// Failures returns the failed steps of the report.
func (r *SessionReport) Failures() []StepResult {
	var failed []StepResult
	for _, s := range r.History {
		if !s.Success {
			failed = append(failed, s)
		}
	}
	return failed
}

// Succeeded returns the number of successful steps.
func (r *SessionReport) Succeeded() int {
	n := 0
	for _, s := range r.History {
		if s.Success {
			n++
		}
	}
	return n
}
