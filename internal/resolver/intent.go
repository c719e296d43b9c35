package resolver

import (
	"strings"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// intentRule maps keyword phrases to an intent. A phrase matches when its
// words appear consecutively in the instruction.
type intentRule struct {
	intent  schemas.Intent
	phrases [][]string
	// exact phrases must be the whole instruction.
	exact [][]string
}

// intentTable is checked top to bottom; the first matching rule wins. Submit
// precedes click so "press enter" is never taken as the click verb "press".
var intentTable = []intentRule{
	{
		intent:  schemas.IntentDismiss,
		phrases: phrases("close popup", "close popups", "close the popup", "dismiss popup", "dismiss the popup"),
	},
	{
		intent:  schemas.IntentSubmit,
		phrases: phrases("press enter", "hit enter", "submit search", "submit the search"),
		exact:   phrases("submit"),
	},
	{
		intent:  schemas.IntentClick,
		phrases: phrases("click", "tap", "press", "select", "choose"),
	},
	{
		intent:  schemas.IntentFill,
		phrases: phrases("fill", "type", "enter", "input", "write"),
	},
	{
		intent:  schemas.IntentSelect,
		phrases: phrases("dropdown"),
	},
	{
		intent:  schemas.IntentScroll,
		phrases: phrases("scroll"),
	},
	{
		intent:  schemas.IntentNavigate,
		phrases: phrases("navigate", "go to", "open", "visit"),
	},
}

// structuredIntents maps the action field of structured instructions.
var structuredIntents = map[string]schemas.Intent{
	"click":    schemas.IntentClick,
	"tap":      schemas.IntentClick,
	"fill":     schemas.IntentFill,
	"type":     schemas.IntentFill,
	"input":    schemas.IntentFill,
	"select":   schemas.IntentSelect,
	"scroll":   schemas.IntentScroll,
	"navigate": schemas.IntentNavigate,
	"goto":     schemas.IntentNavigate,
	"submit":   schemas.IntentSubmit,
	"wait":     schemas.IntentWait,
	"extract":  schemas.IntentExtract,
	"dismiss":  schemas.IntentDismiss,
}

func phrases(ps ...string) [][]string {
	out := make([][]string, len(ps))
	for i, p := range ps {
		out[i] = strings.Fields(p)
	}
	return out
}

// Classify returns the intent of a natural-language instruction.
func Classify(text string) schemas.Intent {
	words := words(text)
	for _, rule := range intentTable {
		for _, p := range rule.exact {
			if equalWords(words, p) {
				return rule.intent
			}
		}
		for _, p := range rule.phrases {
			if indexPhrase(words, p) >= 0 {
				return rule.intent
			}
		}
	}
	return schemas.IntentGeneric
}

// ClassifyInstruction classifies structured and natural-language instructions.
func ClassifyInstruction(instr schemas.Instruction) schemas.Intent {
	if instr.IsStructured() {
		if intent, ok := structuredIntents[strings.ToLower(strings.TrimSpace(instr.Action))]; ok {
			return intent
		}
		return schemas.IntentGeneric
	}
	return Classify(instr.Text)
}

// words lower-cases text and splits it into words, dropping punctuation
// around each word.
func words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, `"'.,:;!?()[]{}`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func indexPhrase(words, phrase []string) int {
	if len(phrase) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, w := range phrase {
			if words[i+j] != w {
				continue outer
			}
		}
		return i
	}
	return -1
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
