package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

// instructionForms are the instruction shapes the model may emit. Each one
// classifies to its own intent.
var instructionForms = []string{
	"close popup",
	"click <thing>",
	"fill <field> with <text>",
	"change <name> dropdown to <option>",
	"scroll down",
	"scroll up",
	"press enter",
	"go to <url or path>",
}

var systemPrompt = `You plan browser sessions for a web agent. Reply with a JSON array only.
Each element is either a short imperative instruction string or an object
{"action": "...", "target": "...", "value": "..."}.
Supported instructions: "` + strings.Join(instructionForms, `", "`) + `".
Start with "close popup" in case a popup covers the page. Prefer searching
for a product, opening the first result, adding it to the cart and then going
to /cart.`

var errEmptyPlan = errors.New("model returned an empty plan")

// Generator produces a model completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// GenAIGenerator calls the Gemini API through the genai SDK.
type GenAIGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGenAIGenerator creates a Gemini API client.
func NewGenAIGenerator(ctx context.Context, cfg config.PlannerConfig) (*GenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (planner.api_key or GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIGenerator{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Generate implements Generator.
func (g *GenAIGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return resp.Text(), nil
}

// Gemini plans with a language model and falls back to the heuristic plan
// whenever the model fails or returns nothing usable.
type Gemini struct {
	gen      Generator
	fallback schemas.Planner
	logger   *zap.Logger
	timeout  time.Duration
	maxSteps int
}

var _ schemas.Planner = (*Gemini)(nil)

// NewGemini wraps gen with the heuristic fallback.
func NewGemini(gen Generator, cfg config.PlannerConfig, logger *zap.Logger) *Gemini {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Gemini{
		gen:      gen,
		fallback: NewHeuristic(maxSteps),
		logger:   logger.Named("planner.gemini"),
		timeout:  cfg.Timeout,
		maxSteps: maxSteps,
	}
}

// Plan implements schemas.Planner.
func (g *Gemini) Plan(ctx context.Context, req schemas.PlanRequest) ([]schemas.Instruction, error) {
	plan, err := g.plan(ctx, req)
	if err == nil {
		g.logger.Info("Model plan ready.", zap.Int("steps", len(plan)))
		return plan, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	g.logger.Warn("Model planning failed, using heuristic plan.", zap.Error(err))
	return g.fallback.Plan(ctx, req)
}

func (g *Gemini) plan(ctx context.Context, req schemas.PlanRequest) ([]schemas.Instruction, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	response, err := g.gen.Generate(ctx, systemPrompt, buildPrompt(req, g.maxSteps))
	if err != nil {
		return nil, err
	}
	items, err := parsePlan(response)
	if err != nil {
		return nil, err
	}

	var out []schemas.Instruction
	for _, it := range items {
		instr := schemas.Instruction{
			Text:   strings.TrimSpace(it.Text),
			Action: strings.TrimSpace(it.Action),
			Target: it.Target,
			Value:  it.Value,
		}
		if instr.Action != "" {
			instr.Text = ""
		}
		if instr.Text == "" && instr.Action == "" {
			continue
		}
		out = append(out, instr)
		if len(out) == g.maxSteps {
			break
		}
	}
	if len(out) == 0 {
		return nil, errEmptyPlan
	}
	return out, nil
}

func buildPrompt(req schemas.PlanRequest, maxSteps int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&b, "Start URL: %s\n", req.URL)
	if req.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", req.Persona)
	}
	fmt.Fprintf(&b, "Use at most %d instructions.\n", maxSteps)
	return b.String()
}

// New builds the planner selected by cfg.Mode.
func New(ctx context.Context, cfg config.PlannerConfig, logger *zap.Logger) (schemas.Planner, error) {
	switch cfg.Mode {
	case "", "heuristic":
		return NewHeuristic(cfg.MaxSteps), nil
	case "gemini":
		gen, err := NewGenAIGenerator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewGemini(gen, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown planner mode '%s'. Supported: [heuristic, gemini]", cfg.Mode)
	}
}
