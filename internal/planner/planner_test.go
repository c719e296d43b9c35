package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/resolver"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

func texts(instrs []schemas.Instruction) []string {
	out := make([]string, len(instrs))
	for i, in := range instrs {
		out[i] = in.String()
	}
	return out
}

func TestHeuristic_Plans(t *testing.T) {
	h := NewHeuristic(0)
	tests := []struct {
		goal string
		want []string
	}{
		{
			goal: "Buy a coffee grinder",
			want: []string{"close popup", "scroll down to see page content", "fill search with coffee grinder", "press enter", "click first product link", "click add to cart", "go to /cart"},
		},
		{
			goal: "I want to purchase something",
			want: []string{"close popup", "scroll down to see page content", "fill search with something", "press enter", "click first product link", "click add to cart", "go to /cart"},
		},
		{
			goal: "Order new headphones!",
			want: []string{"close popup", "scroll down to see page content", "fill search with headphones", "press enter", "click first product link", "click add to cart", "go to /cart"},
		},
		{
			goal: "buy",
			want: []string{"close popup", "scroll down to see page content", "click shop", "click first product link", "click add to cart", "go to /cart"},
		},
		{
			goal: "Browse the store",
			want: []string{"close popup", "scroll down to see page content", "click first product link", "scroll down"},
		},
		{
			goal: "Read the FAQ",
			want: []string{"scroll down to explore the page", "click read faq"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			plan, err := h.Plan(context.Background(), schemas.PlanRequest{Goal: tt.goal})
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(plan))
		})
	}
}

// Every heuristic instruction must be understood by the resolver.
func TestHeuristic_PlansParse(t *testing.T) {
	for _, goal := range []string{"buy pods", "buy", "browse", "read the faq"} {
		plan, err := NewHeuristic(0).Plan(context.Background(), schemas.PlanRequest{Goal: goal})
		require.NoError(t, err)
		for _, instr := range plan {
			_, err := resolver.Parse(instr)
			assert.NoError(t, err, "goal %q instruction %q", goal, instr.String())
		}
	}
}

func TestHeuristic_MaxSteps(t *testing.T) {
	plan, err := NewHeuristic(2).Plan(context.Background(), schemas.PlanRequest{Goal: "buy coffee"})
	require.NoError(t, err)
	assert.Len(t, plan, 2)
}

func TestHeuristic_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHeuristic(0).Plan(ctx, schemas.PlanRequest{Goal: "buy coffee"})
	assert.ErrorIs(t, err, context.Canceled)
}

// Every instruction form offered to the model must parse to its intended
// action.
func TestGemini_PromptFormsParse(t *testing.T) {
	fillers := strings.NewReplacer(
		"<thing>", "brewers",
		"<field>", "search",
		"<text>", "coffee",
		"<name>", "size",
		"<option>", "Large",
		"<url or path>", "/cart",
	)
	want := map[string]schemas.Intent{
		"close popup":                        schemas.IntentDismiss,
		"click <thing>":                      schemas.IntentClick,
		"fill <field> with <text>":           schemas.IntentFill,
		"change <name> dropdown to <option>": schemas.IntentSelect,
		"scroll down":                        schemas.IntentScroll,
		"scroll up":                          schemas.IntentScroll,
		"press enter":                        schemas.IntentSubmit,
		"go to <url or path>":                schemas.IntentNavigate,
	}
	require.Len(t, instructionForms, len(want))

	for _, form := range instructionForms {
		t.Run(form, func(t *testing.T) {
			assert.Contains(t, systemPrompt, `"`+form+`"`)
			action, err := resolver.Parse(schemas.NewInstruction(fillers.Replace(form)))
			require.NoError(t, err)
			assert.Equal(t, want[form], action.Intent)
			assert.NotContains(t, action.Target, "<")
		})
	}

	action, err := resolver.Parse(schemas.NewInstruction(fillers.Replace("change <name> dropdown to <option>")))
	require.NoError(t, err)
	assert.Equal(t, "size_dropdown_field", action.Target)
	assert.Equal(t, "Large", action.Value)
}

func TestGemini_Plan(t *testing.T) {
	gen := new(mockGenerator)
	response := "```json\n[\"click brewers\", {\"action\": \"fill\", \"target\": \"search\", \"value\": \"pods\"}, \"\", \"go to /cart\"]\n```"
	gen.On("Generate", mock.Anything, systemPrompt, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Goal: buy pods") && strings.Contains(p, "Persona: frugal")
	})).Return(response, nil).Once()

	g := NewGemini(gen, config.PlannerConfig{MaxSteps: 10, Timeout: time.Second}, zap.NewNop())
	plan, err := g.Plan(context.Background(), schemas.PlanRequest{Goal: "buy pods", URL: "https://shop.test", Persona: "frugal"})
	require.NoError(t, err)

	require.Len(t, plan, 3, "empty items are dropped")
	assert.Equal(t, schemas.NewInstruction("click brewers"), plan[0])
	assert.Equal(t, schemas.Instruction{Action: "fill", Target: "search", Value: "pods"}, plan[1])
	assert.Equal(t, "go to /cart", plan[2].Text)
	gen.AssertExpectations(t)
}

func TestGemini_TruncatesToMaxSteps(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(`Here you go: ["scroll down", "click a", "click b"] hope it helps`, nil)

	g := NewGemini(gen, config.PlannerConfig{MaxSteps: 2}, zap.NewNop())
	plan, err := g.Plan(context.Background(), schemas.PlanRequest{Goal: "anything"})
	require.NoError(t, err)
	assert.Equal(t, []string{"scroll down", "click a"}, texts(plan))
}

func TestGemini_FallsBackToHeuristic(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"generator error", "", errors.New("quota exceeded")},
		{"not json", "I cannot help with that.", nil},
		{"empty array", "[]", nil},
		{"malformed", `["click a", {]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			gen := new(mockGenerator)
			gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(tt.response, tt.err)

			g := NewGemini(gen, config.PlannerConfig{}, zap.New(core))
			plan, err := g.Plan(context.Background(), schemas.PlanRequest{Goal: "buy coffee"})
			require.NoError(t, err)

			want, _ := NewHeuristic(0).Plan(context.Background(), schemas.PlanRequest{Goal: "buy coffee"})
			assert.Equal(t, want, plan)
			assert.Equal(t, 1, logs.FilterMessage("Model planning failed, using heuristic plan.").Len())
		})
	}
}

func TestGemini_CanceledDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	g := NewGemini(gen, config.PlannerConfig{}, zap.NewNop())
	_, err := g.Plan(ctx, schemas.PlanRequest{Goal: "buy coffee"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	p, err := New(context.Background(), config.PlannerConfig{Mode: "heuristic", MaxSteps: 5}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Heuristic{}, p)

	_, err = New(context.Background(), config.PlannerConfig{Mode: "gemini"}, zap.NewNop())
	assert.ErrorContains(t, err, "API key is required")

	_, err = New(context.Background(), config.PlannerConfig{Mode: "oracle"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown planner mode")
}

func TestExtractJSONArray(t *testing.T) {
	got, err := extractJSONArray("```\n[1, 2]\n```")
	require.NoError(t, err)
	assert.Equal(t, "[1, 2]", got)

	_, err = extractJSONArray("no brackets here")
	assert.Error(t, err)
}
