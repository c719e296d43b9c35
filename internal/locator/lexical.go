// Package locator provides semantic element locators: given a canonical
// identifier or a free-text prompt, find the element on the page it most
// plausibly refers to.
package locator

import (
	"context"
	"strings"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/target"
	"go.uber.org/zap"
)

const (
	clickableSelector = "a[href], button, [role='button'], [role='link'], input[type='submit'], input[type='button'], [onclick]"
	fieldSelector     = "input:not([type='hidden']):not([type='submit']):not([type='button']), textarea, select, [contenteditable='true']"
)

// roleWords carry no meaning for matching; they describe the element kind.
var roleWords = map[string]bool{
	"field": true, "box": true, "input": true, "btn": true, "button": true,
	"link": true, "element": true, "the": true, "a": true, "an": true, "for": true,
}

// labelAttributes are read, in order, to build a candidate's label.
var labelAttributes = []string{"aria-label", "title", "placeholder", "name", "id", "alt", "value", "href"}

// Lexical matches identifiers against the visible labels of interactive
// elements. It needs nothing beyond the page itself.
type Lexical struct {
	page     schemas.Page
	logger   *zap.Logger
	minScore float64
}

var _ schemas.Locator = (*Lexical)(nil)

// NewLexical creates a locator over page. minScore in (0,1] is the minimum
// token overlap for a prompt match.
func NewLexical(page schemas.Page, logger *zap.Logger, minScore float64) *Lexical {
	if minScore <= 0 || minScore > 1 {
		minScore = 0.5
	}
	return &Lexical{page: page, logger: logger.Named("locator"), minScore: minScore}
}

// FindByIdentifier requires every meaningful token of identifier to appear in
// the candidate's label. Generic role identifiers return the first visible
// candidate of that role.
func (l *Lexical) FindByIdentifier(ctx context.Context, identifier string) (schemas.ElementHandle, error) {
	role := roleOf(identifier)
	switch identifier {
	case target.GenericClickable, target.ClickablePlaceholder:
		return l.first(ctx, clickableSelector)
	case target.GenericField, target.FieldPlaceholder:
		return l.first(ctx, fieldSelector)
	}

	tokens := meaningful(target.Tokens(identifier))
	if len(tokens) == 0 {
		return nil, nil
	}
	h, score, err := l.best(ctx, role, tokens)
	if err != nil || score < 1 {
		return nil, err
	}
	return h, nil
}

// FindByPrompt matches free text, accepting partial overlap of at least
// minScore.
func (l *Lexical) FindByPrompt(ctx context.Context, prompt string) (schemas.ElementHandle, error) {
	id := target.Normalize(prompt, target.RoleClickable)
	role := target.RoleClickable
	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "input") || strings.Contains(lower, "field") || strings.Contains(lower, "search box") {
		role = target.RoleField
	}
	tokens := meaningful(target.Tokens(id))
	if len(tokens) == 0 {
		return nil, nil
	}
	h, score, err := l.best(ctx, role, tokens)
	if err != nil || score < l.minScore {
		return nil, err
	}
	return h, nil
}

func (l *Lexical) first(ctx context.Context, selector string) (schemas.ElementHandle, error) {
	handles, err := l.page.QueryAll(ctx, nil, selector)
	if err != nil {
		return nil, err
	}
	for _, h := range handles {
		info, err := l.page.Describe(ctx, h)
		if err != nil {
			continue
		}
		if info.Visible {
			return h, nil
		}
	}
	return nil, nil
}

// best scores every visible candidate of role and returns the highest. Ties
// go to the earliest element in document order.
func (l *Lexical) best(ctx context.Context, role target.Role, tokens []string) (schemas.ElementHandle, float64, error) {
	selector := clickableSelector
	if role == target.RoleField {
		selector = fieldSelector
	}
	handles, err := l.page.QueryAll(ctx, nil, selector)
	if err != nil {
		return nil, 0, err
	}

	var bestHandle schemas.ElementHandle
	bestScore := 0.0
	for _, h := range handles {
		info, err := l.page.Describe(ctx, h)
		if err != nil || !info.Visible {
			continue
		}
		if s := score(tokens, labelTokens(info)); s > bestScore {
			bestHandle, bestScore = h, s
		}
	}
	l.logger.Debug("Lexical match",
		zap.Strings("tokens", tokens),
		zap.Int("candidates", len(handles)),
		zap.Float64("score", bestScore))
	return bestHandle, bestScore, nil
}

func roleOf(identifier string) target.Role {
	if target.HasFieldSuffix(identifier) {
		return target.RoleField
	}
	return target.RoleClickable
}

func meaningful(tokens []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if !roleWords[t] {
			out = append(out, t)
		}
	}
	return out
}

func labelTokens(info schemas.ElementInfo) map[string]bool {
	set := make(map[string]bool)
	add := func(s string) {
		for _, t := range target.Tokens(target.Normalize(s, target.RoleClickable)) {
			set[t] = true
		}
	}
	add(info.Text)
	for _, key := range labelAttributes {
		if v := info.Attributes[key]; v != "" {
			add(strings.NewReplacer("/", " ", ".", " ", "?", " ", "=", " ").Replace(v))
		}
	}
	return set
}

// score is the fraction of tokens present in label.
func score(tokens []string, label map[string]bool) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hit := 0
	for _, t := range tokens {
		if label[t] || label[strings.TrimSuffix(t, "s")] {
			hit++
		}
	}
	return float64(hit) / float64(len(tokens))
}
