package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/wayfarer/api/schemas"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want schemas.Intent
	}{
		{"press enter", schemas.IntentSubmit},
		{"Press Enter to search", schemas.IntentSubmit},
		{"hit enter", schemas.IntentSubmit},
		{"submit the search", schemas.IntentSubmit},
		{"submit", schemas.IntentSubmit},
		{"click submit", schemas.IntentClick},
		{"click brewers", schemas.IntentClick},
		{"Tap the cart icon", schemas.IntentClick},
		{"select the first product", schemas.IntentClick},
		{"fill search with coffee", schemas.IntentFill},
		{"type 'pods' into the search box", schemas.IntentFill},
		{"enter email with a@b.c", schemas.IntentFill},
		{"change size dropdown to large", schemas.IntentSelect},
		{"scroll down", schemas.IntentScroll},
		{"close popup", schemas.IntentDismiss},
		{"Dismiss the popup if one is shown", schemas.IntentDismiss},
		{"click close", schemas.IntentClick},
		{"go to the cart", schemas.IntentNavigate},
		{"visit /collections/pods", schemas.IntentNavigate},
		{"brewers", schemas.IntentGeneric},
		{"", schemas.IntentGeneric},
		// Keywords only match whole words.
		{"clicker game", schemas.IntentGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassifyInstruction_Structured(t *testing.T) {
	assert.Equal(t, schemas.IntentFill, ClassifyInstruction(schemas.Instruction{Action: "Type", Target: "search"}))
	assert.Equal(t, schemas.IntentNavigate, ClassifyInstruction(schemas.Instruction{Action: "goto", Value: "/cart"}))
	assert.Equal(t, schemas.IntentGeneric, ClassifyInstruction(schemas.Instruction{Action: "hover", Target: "menu"}))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   schemas.Instruction
		want schemas.ResolvedAction
	}{
		{
			name: "click strips verb",
			in:   schemas.NewInstruction("click brewers"),
			want: schemas.ResolvedAction{Intent: schemas.IntentClick, Target: "brewers", Description: "brewers"},
		},
		{
			name: "click with quoted target",
			in:   schemas.NewInstruction(`click on "Add to Cart"`),
			want: schemas.ResolvedAction{Intent: schemas.IntentClick, Target: "add_to_cart", Description: "Add to Cart"},
		},
		{
			name: "fill splits on with",
			in:   schemas.NewInstruction("fill search with coffee pods"),
			want: schemas.ResolvedAction{Intent: schemas.IntentFill, Target: "search_field", Description: "search", Value: "coffee pods"},
		},
		{
			name: "fill keeps existing field suffix",
			in:   schemas.NewInstruction("type into search box with 'k-cup'"),
			want: schemas.ResolvedAction{Intent: schemas.IntentFill, Target: "search_box", Description: "search box", Value: "k-cup"},
		},
		{
			name: "select splits on to",
			in:   schemas.NewInstruction("set size dropdown to Large"),
			want: schemas.ResolvedAction{Intent: schemas.IntentSelect, Target: "size_dropdown_field", Description: "size dropdown", Value: "Large"},
		},
		{
			name: "scroll up",
			in:   schemas.NewInstruction("scroll up a bit"),
			want: schemas.ResolvedAction{Intent: schemas.IntentScroll, Value: "up"},
		},
		{
			name: "scroll defaults to down",
			in:   schemas.NewInstruction("scroll"),
			want: schemas.ResolvedAction{Intent: schemas.IntentScroll, Value: "down"},
		},
		{
			name: "navigate to path",
			in:   schemas.NewInstruction("go to /cart"),
			want: schemas.ResolvedAction{Intent: schemas.IntentNavigate, Description: "/cart", Value: "/cart"},
		},
		{
			name: "navigate to absolute url",
			in:   schemas.NewInstruction("navigate to https://shop.test/collections/pods"),
			want: schemas.ResolvedAction{Intent: schemas.IntentNavigate, Description: "https://shop.test/collections/pods", Value: "https://shop.test/collections/pods"},
		},
		{
			name: "navigate by link text",
			in:   schemas.NewInstruction("open the brewers page"),
			want: schemas.ResolvedAction{Intent: schemas.IntentNavigate, Target: "brewers_page", Description: "brewers page"},
		},
		{
			name: "dismiss targets the popup close control",
			in:   schemas.NewInstruction("close popup"),
			want: schemas.ResolvedAction{Intent: schemas.IntentDismiss, Target: "close_popup", Description: "close popup"},
		},
		{
			name: "structured dismiss",
			in:   schemas.Instruction{Action: "dismiss"},
			want: schemas.ResolvedAction{Intent: schemas.IntentDismiss, Target: "close_popup", Description: "popup"},
		},
		{
			name: "submit",
			in:   schemas.NewInstruction("press enter"),
			want: schemas.ResolvedAction{Intent: schemas.IntentSubmit, Description: "press enter"},
		},
		{
			name: "generic keeps whole text",
			in:   schemas.NewInstruction("Brewers"),
			want: schemas.ResolvedAction{Intent: schemas.IntentGeneric, Target: "brewers", Description: "Brewers"},
		},
		{
			name: "structured fill",
			in:   schemas.Instruction{Action: "fill", Target: "Email", Value: "a@b.c"},
			want: schemas.ResolvedAction{Intent: schemas.IntentFill, Target: "email_field", Description: "Email", Value: "a@b.c"},
		},
		{
			name: "structured navigate",
			in:   schemas.Instruction{Action: "navigate", Value: "/collections/brewers"},
			want: schemas.ResolvedAction{Intent: schemas.IntentNavigate, Value: "/collections/brewers"},
		},
		{
			name: "structured wait",
			in:   schemas.Instruction{Action: "wait", Value: "250"},
			want: schemas.ResolvedAction{Intent: schemas.IntentWait, Value: "250"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Unsupported(t *testing.T) {
	tests := []struct {
		name string
		in   schemas.Instruction
	}{
		{"fill without with", schemas.NewInstruction("fill the search box")},
		{"fill with nothing before with", schemas.NewInstruction("fill with coffee")},
		{"select without to", schemas.NewInstruction("pick size dropdown large")},
		{"click with no target", schemas.NewInstruction("click")},
		{"structured fill without target", schemas.Instruction{Action: "fill", Value: "x"}},
		{"structured unknown action", schemas.Instruction{Action: "hover", Target: "menu"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, schemas.ErrUnsupportedInstruction)
			assert.Equal(t, schemas.ErrCodeUnsupportedInstruction, schemas.CodeOf(err))
		})
	}
}
