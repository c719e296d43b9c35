// Package recipe implements declarative, URL matched extraction recipes. A
// recipe is a tree of selector rules that names the interesting elements of a
// page; walking it against a live page yields a flat Observation.
package recipe

import (
	"fmt"
	"regexp"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// MatchMethod selects how a recipe's pattern is compared to a URL path.
type MatchMethod string

const (
	MatchExact  MatchMethod = "exact"
	MatchPrefix MatchMethod = "prefix"
	MatchRegex  MatchMethod = "regex"
)

// ErrNoRecipeMatched is returned when no recipe in a catalog matches a URL.
// Callers degrade to generic resolution; it is never fatal.
var ErrNoRecipeMatched = schemas.ErrNoRecipeMatched

// Node is one declarative rule in a recipe tree.
type Node struct {
	Selector    string   `yaml:"selector" json:"selector"`
	Name        string   `yaml:"name,omitempty" json:"name,omitempty"`
	Clickable   bool     `yaml:"clickable,omitempty" json:"clickable,omitempty"`
	Attributes  []string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	CaptureText bool     `yaml:"capture_text,omitempty" json:"capture_text,omitempty"`
	// NameFromText derives the snapshot name from the normalized text of the
	// element matched by TextSelector (or the element itself when empty).
	NameFromText bool   `yaml:"name_from_text,omitempty" json:"name_from_text,omitempty"`
	TextSelector string `yaml:"text_selector,omitempty" json:"text_selector,omitempty"`
	// NameSuffix is appended to derived names, e.g. "_card".
	NameSuffix string `yaml:"name_suffix,omitempty" json:"name_suffix,omitempty"`
	Children   []Node `yaml:"children,omitempty" json:"children,omitempty"`
}

// Named reports whether the node contributes to the observation.
func (n *Node) Named() bool {
	return n.Name != "" || n.NameFromText
}

// Recipe binds a node tree to the URLs it applies to.
type Recipe struct {
	Name   string      `yaml:"name" json:"name"`
	Match  string      `yaml:"match" json:"match"`
	Method MatchMethod `yaml:"method" json:"method"`
	Root   Node        `yaml:"root" json:"root"`

	re *regexp.Regexp
}

// Compile prepares the recipe for matching. It must be called before Matches
// for regex recipes; catalogs do this when loaded.
func (r *Recipe) Compile() error {
	switch r.Method {
	case MatchExact, MatchPrefix:
		return nil
	case MatchRegex:
		re, err := regexp.Compile(`^(?:` + r.Match + `)$`)
		if err != nil {
			return fmt.Errorf("recipe '%s': invalid pattern '%s': %w", r.Name, r.Match, err)
		}
		r.re = re
		return nil
	default:
		return fmt.Errorf("recipe '%s': unknown match method '%s'", r.Name, r.Method)
	}
}

// Matches reports whether the recipe applies to the given URL path.
func (r *Recipe) Matches(path string) bool {
	switch r.Method {
	case MatchExact:
		return path == r.Match
	case MatchPrefix:
		return len(path) >= len(r.Match) && path[:len(r.Match)] == r.Match
	case MatchRegex:
		if r.re == nil {
			if err := r.Compile(); err != nil {
				return false
			}
		}
		return r.re.MatchString(path)
	}
	return false
}

// Walk visits every node depth-first, left to right. The path holds the
// selectors from the root to the visited node.
func (r *Recipe) Walk(fn func(n *Node, path []string)) {
	var visit func(n *Node, path []string)
	visit = func(n *Node, path []string) {
		p := append(path[:len(path):len(path)], n.Selector)
		fn(n, p)
		for i := range n.Children {
			visit(&n.Children[i], p)
		}
	}
	visit(&r.Root, nil)
}
