package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/wayfarer/api/schemas"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	require.NotEmpty(t, c.Recipes)

	tests := []struct {
		url  string
		want string
	}{
		{"https://shop.test/", "home"},
		{"https://shop.test", "home"},
		{"https://shop.test/collections/brewers", "collection"},
		{"https://shop.test/products/k-classic?variant=1", "product"},
		{"https://shop.test/search?q=pods", "search"},
		{"https://shop.test/cart", "cart"},
		{"https://shop.test/cart/change", "generic"},
		{"https://shop.test/pages/about", "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			r, err := c.Match(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Name)
		})
	}

	home, ok := c.Get("home")
	require.True(t, ok)
	names := map[string]bool{}
	home.Walk(func(n *Node, _ []string) {
		if n.Name != "" {
			names[n.Name] = true
		}
	})
	assert.True(t, names["brewers_nav"])
	assert.True(t, names["search_input"])
}

func TestCatalog_FirstMatchWins(t *testing.T) {
	c, err := NewCatalog(
		Recipe{Name: "cart", Match: "/cart", Method: MatchExact, Root: Node{Selector: "body"}},
		Recipe{Name: "catch_all", Match: ".*", Method: MatchRegex, Root: Node{Selector: "body"}},
	)
	require.NoError(t, err)

	r, err := c.Match("https://shop.test/cart")
	require.NoError(t, err)
	assert.Equal(t, "cart", r.Name)

	r, err = c.Match("https://shop.test/cart/add")
	require.NoError(t, err)
	assert.Equal(t, "catch_all", r.Name, "exact matching does not accept extensions")
}

func TestCatalog_NoMatch(t *testing.T) {
	c, err := NewCatalog(Recipe{Name: "home", Match: "/", Root: Node{Selector: "body"}})
	require.NoError(t, err)
	assert.Equal(t, MatchExact, c.Recipes[0].Method, "method defaults to exact")

	_, err = c.Match("https://shop.test/collections/all")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRecipeMatched)
	assert.Equal(t, schemas.ErrCodeNoRecipeMatched, schemas.CodeOf(err))
}

func TestRecipe_Matches(t *testing.T) {
	prefix := Recipe{Name: "p", Match: "/products/", Method: MatchPrefix}
	assert.True(t, prefix.Matches("/products/a"))
	assert.False(t, prefix.Matches("/product"))

	re := Recipe{Name: "r", Match: "/search.*", Method: MatchRegex}
	require.NoError(t, re.Compile())
	assert.True(t, re.Matches("/search"))
	assert.True(t, re.Matches("/search/results"))
	assert.False(t, re.Matches("/en/search"), "regex patterns are anchored")
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "recipes:\n  - name: a\n    match: /\n    bogus: 1\n    root: {selector: body}\n"},
		{"bad regex", "recipes:\n  - name: a\n    match: '(['\n    method: regex\n    root: {selector: body}\n"},
		{"bad method", "recipes:\n  - name: a\n    match: /\n    method: glob\n    root: {selector: body}\n"},
		{"empty selector", "recipes:\n  - name: a\n    match: /\n    root:\n      selector: body\n      children:\n        - name: x\n"},
		{"duplicate recipe", "recipes:\n  - name: a\n    match: /\n    root: {selector: body}\n  - name: a\n    match: /x\n    root: {selector: body}\n"},
		{"name and name_from_text", "recipes:\n  - name: a\n    match: /\n    root: {selector: body, name: b, name_from_text: true}\n"},
		{"missing name", "recipes:\n  - match: /\n    root: {selector: body}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestCatalog_Lint(t *testing.T) {
	c, err := ParseCatalog([]byte(`
recipes:
  - name: dup
    match: /
    root:
      selector: body
      children:
        - {selector: "#a", name: target}
        - {selector: "#b", name: target}
  - name: empty
    match: /empty
    root: {selector: body}
`))
	require.NoError(t, err)
	warnings := c.Lint()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "'target' is defined 2 times")
	assert.Contains(t, warnings[1], "names no elements")
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recipes:\n  - name: only\n    match: /\n    root: {selector: body, name: page}\n"), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Recipes, 1)
	assert.Equal(t, "only", c.Recipes[0].Name)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPathOf(t *testing.T) {
	assert.Equal(t, "/cart", PathOf("https://shop.test/cart?x=1"))
	assert.Equal(t, "/", PathOf("https://shop.test"))
	assert.Equal(t, "/a/b", PathOf("/a/b"))
}
