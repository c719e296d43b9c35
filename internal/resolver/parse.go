package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/target"
)

var (
	clickVerbs    = wordSet("click", "tap", "press", "select", "choose", "on", "the")
	fillVerbs     = wordSet("fill", "type", "enter", "input", "write", "in", "into", "out", "the")
	navigateVerbs = wordSet("navigate", "go", "to", "open", "visit", "the", "page")
	selectVerbs   = wordSet("set", "change", "pick", "the")
)

func wordSet(ws ...string) map[string]bool {
	m := make(map[string]bool, len(ws))
	for _, w := range ws {
		m[w] = true
	}
	return m
}

// Parse classifies instr and extracts its canonical target and value.
func Parse(instr schemas.Instruction) (schemas.ResolvedAction, error) {
	intent := ClassifyInstruction(instr)
	if instr.IsStructured() {
		return parseStructured(intent, instr)
	}

	text := strings.TrimSpace(instr.Text)
	switch intent {
	case schemas.IntentFill:
		field, value, ok := splitOn(text, "with")
		if !ok {
			return schemas.ResolvedAction{}, fmt.Errorf("%w: fill instruction %q has no 'with' separator", schemas.ErrUnsupportedInstruction, text)
		}
		desc := stripLeading(field, fillVerbs)
		if desc == "" {
			return schemas.ResolvedAction{}, fmt.Errorf("%w: fill instruction %q names no field", schemas.ErrUnsupportedInstruction, text)
		}
		return schemas.ResolvedAction{
			Intent:      intent,
			Target:      target.Normalize(desc, target.RoleField),
			Description: desc,
			Value:       unquote(value),
		}, nil

	case schemas.IntentSelect:
		field, value, ok := splitOn(text, "to")
		if !ok {
			return schemas.ResolvedAction{}, fmt.Errorf("%w: select instruction %q has no 'to' separator", schemas.ErrUnsupportedInstruction, text)
		}
		desc := stripLeading(field, selectVerbs)
		return schemas.ResolvedAction{
			Intent:      intent,
			Target:      target.Normalize(desc, target.RoleField),
			Description: desc,
			Value:       unquote(value),
		}, nil

	case schemas.IntentScroll:
		return schemas.ResolvedAction{Intent: intent, Value: scrollDirection(text)}, nil

	case schemas.IntentSubmit:
		return schemas.ResolvedAction{Intent: intent, Description: text}, nil

	case schemas.IntentDismiss:
		return schemas.ResolvedAction{Intent: intent, Target: popupControls[0], Description: text}, nil

	case schemas.IntentNavigate:
		desc := stripLeading(text, navigateVerbs)
		if u := asURL(desc); u != "" {
			return schemas.ResolvedAction{Intent: intent, Description: desc, Value: u}, nil
		}
		// Link navigation by description is a click on the described link.
		return clickAction(schemas.IntentNavigate, desc)

	default:
		return clickAction(intent, stripLeading(text, clickVerbs))
	}
}

func clickAction(intent schemas.Intent, desc string) (schemas.ResolvedAction, error) {
	desc = unquote(desc)
	if desc == "" {
		return schemas.ResolvedAction{}, fmt.Errorf("%w: instruction names no element", schemas.ErrUnsupportedInstruction)
	}
	return schemas.ResolvedAction{
		Intent:      intent,
		Target:      target.Normalize(desc, target.RoleClickable),
		Description: desc,
	}, nil
}

func parseStructured(intent schemas.Intent, instr schemas.Instruction) (schemas.ResolvedAction, error) {
	desc := strings.TrimSpace(instr.Target)
	value := strings.TrimSpace(instr.Value)
	switch intent {
	case schemas.IntentFill, schemas.IntentSelect:
		if desc == "" {
			return schemas.ResolvedAction{}, fmt.Errorf("%w: %s instruction has no target", schemas.ErrUnsupportedInstruction, instr.Action)
		}
		return schemas.ResolvedAction{
			Intent:      intent,
			Target:      target.Normalize(desc, target.RoleField),
			Description: desc,
			Value:       value,
		}, nil
	case schemas.IntentScroll:
		dir := scrollDirection(desc + " " + value)
		return schemas.ResolvedAction{Intent: intent, Value: dir}, nil
	case schemas.IntentNavigate:
		if u := asURL(firstNonEmpty(value, desc)); u != "" {
			return schemas.ResolvedAction{Intent: intent, Description: desc, Value: u}, nil
		}
		return clickAction(intent, desc)
	case schemas.IntentDismiss:
		return schemas.ResolvedAction{Intent: intent, Target: popupControls[0], Description: firstNonEmpty(desc, "popup")}, nil
	case schemas.IntentSubmit, schemas.IntentWait, schemas.IntentExtract:
		return schemas.ResolvedAction{Intent: intent, Description: desc, Value: value}, nil
	case schemas.IntentGeneric:
		return schemas.ResolvedAction{}, fmt.Errorf("%w: unknown action '%s'", schemas.ErrUnsupportedInstruction, instr.Action)
	default:
		return clickAction(intent, desc)
	}
}

// splitOn splits text around the first standalone occurrence of sep.
func splitOn(text, sep string) (before, after string, ok bool) {
	fields := strings.Fields(text)
	for i, f := range fields {
		if strings.EqualFold(f, sep) && i > 0 {
			return strings.Join(fields[:i], " "), strings.Join(fields[i+1:], " "), true
		}
	}
	return "", "", false
}

// stripLeading removes leading words found in verbs and trims quoting.
func stripLeading(text string, verbs map[string]bool) string {
	fields := strings.Fields(text)
	i := 0
	for i < len(fields) && verbs[strings.ToLower(strings.Trim(fields[i], `"':,`))] {
		i++
	}
	return unquote(strings.Join(fields[i:], " "))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".")
	return strings.TrimSpace(strings.Trim(s, "\"'`“”‘’:"))
}

func scrollDirection(text string) string {
	for _, w := range words(text) {
		if w == "up" {
			return "up"
		}
	}
	return "down"
}

// asURL returns s when it looks like an absolute URL or a site-relative path.
func asURL(s string) string {
	s = unquote(s)
	if strings.HasPrefix(s, "/") && !strings.ContainsAny(s, " \t") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
