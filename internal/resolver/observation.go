package resolver

import (
	"sort"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/target"
)

// roleTokens describe an element's kind rather than its identity.
var roleTokens = map[string]bool{
	"field": true, "box": true, "input": true, "btn": true, "button": true,
	"nav": true, "link": true, "element": true, "the": true,
}

// matchObservation finds the snapshot whose name best fits identifier. Only
// snapshots whose clickability matches are considered. A name fits when it
// contains every meaningful token of identifier. Exact names win, then names
// with the fewest extra tokens, then alphabetical order.
func matchObservation(obs *schemas.Observation, identifier string, clickable bool) *schemas.ElementSnapshot {
	if obs == nil || len(obs.Elements) == 0 {
		return nil
	}
	if snap, ok := obs.Elements[identifier]; ok && snap.Clickable == clickable {
		return &snap
	}

	want := meaningfulTokens(identifier)
	if len(want) == 0 {
		return nil
	}

	type candidate struct {
		name  string
		extra int
	}
	var candidates []candidate
	for name, snap := range obs.Elements {
		if snap.Clickable != clickable {
			continue
		}
		have := make(map[string]bool)
		for _, t := range target.Tokens(name) {
			have[t] = true
		}
		if snap.Text != nil {
			for _, t := range target.Tokens(target.Normalize(*snap.Text, target.RoleClickable)) {
				have[t] = true
			}
		}
		ok := true
		for _, t := range want {
			if !have[t] {
				ok = false
				break
			}
		}
		if ok {
			candidates = append(candidates, candidate{name: name, extra: len(have) - len(want)})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].extra != candidates[j].extra {
			return candidates[i].extra < candidates[j].extra
		}
		return candidates[i].name < candidates[j].name
	})
	snap := obs.Elements[candidates[0].name]
	return &snap
}

func meaningfulTokens(identifier string) []string {
	var out []string
	for _, t := range target.Tokens(identifier) {
		if !roleTokens[t] {
			out = append(out, t)
		}
	}
	return out
}
