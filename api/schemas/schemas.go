package schemas

import (
	"strings"
	"time"
)

// Intent is the classified purpose of a single instruction.
type Intent string

const (
	IntentClick    Intent = "click"
	IntentFill     Intent = "fill"
	IntentSelect   Intent = "select"
	IntentScroll   Intent = "scroll"
	IntentNavigate Intent = "navigate"
	IntentSubmit   Intent = "submit"
	IntentWait     Intent = "wait"
	IntentExtract  Intent = "extract"
	IntentDismiss  Intent = "dismiss"
	IntentGeneric  Intent = "generic"
)

// Instruction is one unit of work for a session. Either Text is set (natural
// language) or Action is set (structured), never both.
type Instruction struct {
	Text   string `json:"text,omitempty" yaml:"text,omitempty"`
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
}

// NewInstruction wraps a natural-language instruction.
func NewInstruction(text string) Instruction {
	return Instruction{Text: text}
}

// IsStructured reports whether the instruction carries an explicit action.
func (i Instruction) IsStructured() bool {
	return i.Action != ""
}

// String renders the instruction as text. It is stable for identical
// instructions and is used as part of the schema cache key.
func (i Instruction) String() string {
	if !i.IsStructured() {
		return strings.TrimSpace(i.Text)
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(i.Action)))
	if i.Target != "" {
		b.WriteString(" ")
		b.WriteString(i.Target)
	}
	if i.Value != "" {
		b.WriteString(" = ")
		b.WriteString(i.Value)
	}
	return b.String()
}

// ResolvedAction is the outcome of classifying and canonicalizing an instruction.
type ResolvedAction struct {
	Intent Intent `json:"intent"`
	// Target is the canonical identifier produced by the normalizer.
	Target string `json:"target,omitempty"`
	// Description is the raw, non-normalized target text.
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
}

// StepResult records the outcome of one executed instruction.
type StepResult struct {
	Step           int           `json:"step"`
	Success        bool          `json:"success"`
	Action         Instruction   `json:"action"`
	Intent         Intent        `json:"intent,omitempty"`
	Strategy       string        `json:"strategy,omitempty"`
	Fallback       string        `json:"fallback,omitempty"`
	ResultingURL   string        `json:"resulting_url"`
	ResultingTitle string        `json:"resulting_title"`
	Error          string        `json:"error,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty"`
	Observation    []string      `json:"observation,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// ObservationRef identifies where a snapshot came from so it can be
// re-resolved after its live handle goes stale.
type ObservationRef struct {
	Recipe   string   `json:"recipe"`
	Name     string   `json:"name"`
	Selector []string `json:"selector"`
}

// ElementSnapshot is one named element captured by a recipe walk.
type ElementSnapshot struct {
	Clickable  bool              `json:"clickable"`
	Text       *string           `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Handle     ElementHandle     `json:"-"`
	Ref        ObservationRef    `json:"ref"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// Attr returns a captured attribute and whether it was present.
func (s ElementSnapshot) Attr(name string) (string, bool) {
	v, ok := s.Attributes[name]
	return v, ok
}

// Observation is the flat name to snapshot mapping for one page.
type Observation struct {
	Recipe   string                     `json:"recipe"`
	URL      string                     `json:"url"`
	Elements map[string]ElementSnapshot `json:"elements"`
}

// NewObservation creates an empty observation for a recipe and URL.
func NewObservation(recipe, url string) Observation {
	return Observation{Recipe: recipe, URL: url, Elements: make(map[string]ElementSnapshot)}
}

// Names returns the observation's element names in unspecified order.
func (o Observation) Names() []string {
	names := make([]string, 0, len(o.Elements))
	for n := range o.Elements {
		names = append(names, n)
	}
	return names
}

// Len returns the number of named elements.
func (o Observation) Len() int {
	return len(o.Elements)
}

// Lookup returns the snapshot recorded under name.
func (o Observation) Lookup(name string) (ElementSnapshot, bool) {
	s, ok := o.Elements[name]
	return s, ok
}
