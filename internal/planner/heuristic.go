// Package planner turns a goal into the instruction sequence a session runs.
package planner

import (
	"context"
	"regexp"
	"strings"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// defaultMaxSteps caps plans when no limit is configured.
const defaultMaxSteps = 20

// dismissPopup leads plans that interact with the storefront. It does nothing
// on pages without a popup.
const dismissPopup = "close popup"

var (
	shoppingWords = regexp.MustCompile(`(?i)\b(buy|purchase|order|shop|shopping|add to (cart|bag)|checkout|check out)\b`)
	browseWords   = regexp.MustCompile(`(?i)\b(browse|explore|look around|discover)\b`)
	// fillerWords are dropped when extracting the product from a goal.
	fillerWords = map[string]bool{
		"buy": true, "purchase": true, "order": true, "shop": true, "shopping": true, "for": true,
		"a": true, "an": true, "the": true, "some": true, "me": true, "i": true, "want": true,
		"to": true, "please": true, "new": true, "find": true, "and": true, "get": true,
		"add": true, "cart": true, "bag": true, "it": true, "my": true, "checkout": true,
		"check": true, "out": true,
	}
	nonWord = regexp.MustCompile(`[^a-z0-9\- ]+`)
)

// Heuristic builds plans from keyword rules. It never fails and needs no
// network access.
type Heuristic struct {
	maxSteps int
}

var _ schemas.Planner = (*Heuristic)(nil)

// NewHeuristic returns a heuristic planner capping plans at maxSteps.
func NewHeuristic(maxSteps int) *Heuristic {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Heuristic{maxSteps: maxSteps}
}

// Plan implements schemas.Planner.
func (h *Heuristic) Plan(ctx context.Context, req schemas.PlanRequest) ([]schemas.Instruction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var steps []string
	switch {
	case shoppingWords.MatchString(req.Goal):
		steps = shoppingPlan(productTerms(req.Goal))
	case browseWords.MatchString(req.Goal):
		steps = []string{
			dismissPopup,
			"scroll down to see page content",
			"click first product link",
			"scroll down",
		}
	default:
		steps = []string{"scroll down to explore the page"}
		if terms := productTerms(req.Goal); terms != "" {
			steps = append(steps, "click "+terms)
		}
	}

	if len(steps) > h.maxSteps {
		steps = steps[:h.maxSteps]
	}
	out := make([]schemas.Instruction, len(steps))
	for i, s := range steps {
		out[i] = schemas.NewInstruction(s)
	}
	return out, nil
}

// shoppingPlan searches for product when one is named, otherwise it goes
// through the shop entry point.
func shoppingPlan(product string) []string {
	steps := []string{dismissPopup, "scroll down to see page content"}
	if product != "" {
		steps = append(steps,
			"fill search with "+product,
			"press enter",
			"click first product link",
		)
	} else {
		steps = append(steps,
			"click shop",
			"click first product link",
		)
	}
	return append(steps, "click add to cart", "go to /cart")
}

// productTerms strips verbs and filler from a goal.
func productTerms(goal string) string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(goal), " ")
	var kept []string
	for _, w := range strings.Fields(cleaned) {
		if !fillerWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
