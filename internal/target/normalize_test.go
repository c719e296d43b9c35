package target

import (
	"regexp"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var canonicalPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		role Role
		want string
	}{
		{"button description", "the blue Add to Cart button", RoleClickable, "the_blue_add_to_cart_button"},
		{"hyphens become separators", "check-out", RoleClickable, "check_out"},
		{"punctuation stripped", `"Sign In!"`, RoleClickable, "sign_in"},
		{"repeated separators collapse", "  search   -  box ", RoleClickable, "search_box"},
		{"empty clickable", "", RoleClickable, ClickablePlaceholder},
		{"only symbols clickable", "!!!", RoleClickable, ClickablePlaceholder},
		{"empty field", "   ", RoleField, FieldPlaceholder},
		{"field gets suffix", "email", RoleField, "email_field"},
		{"field keeps box suffix", "Search Box", RoleField, "search_box"},
		{"field keeps input suffix", "zip input", RoleField, "zip_input"},
		{"field keeps field suffix", "name field", RoleField, "name_field"},
		{"non ascii stripped", "Café Crème", RoleClickable, "caf_crme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in, tt.role))
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	in := "Proceed to Checkout"
	assert.Equal(t, Normalize(in, RoleClickable), Normalize(in, RoleClickable))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"brewers", "nav"}, Tokens("brewers_nav"))
	assert.Empty(t, Tokens(""))
}

func TestNormalize_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "desc")
		role := Role(rapid.IntRange(0, 1).Draw(t, "role"))

		once := Normalize(in, role)
		if once == "" {
			t.Fatalf("normalize(%q) returned empty", in)
		}
		if twice := Normalize(once, role); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
		if !canonicalPattern.MatchString(once) {
			t.Fatalf("normalize(%q) = %q is not canonical", in, once)
		}
		if role == RoleField && !HasFieldSuffix(once) {
			t.Fatalf("field identifier %q lacks a role suffix", once)
		}
	})
}

func FuzzNormalize(f *testing.F) {
	f.Add([]byte("click the Add to Cart button"))
	f.Add([]byte(""))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		desc, err := consumer.GetString()
		if err != nil {
			return
		}
		field, err := consumer.GetBool()
		if err != nil {
			return
		}
		role := RoleClickable
		if field {
			role = RoleField
		}
		once := Normalize(desc, role)
		if Normalize(once, role) != once {
			t.Errorf("normalize is not idempotent for %q", desc)
		}
	})
}
