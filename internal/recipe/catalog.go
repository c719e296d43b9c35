package recipe

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogs/storefront.yaml
var defaultCatalogYAML []byte

// Catalog is an ordered list of recipes. Order encodes priority: the first
// matching recipe wins.
type Catalog struct {
	Recipes []Recipe `yaml:"recipes" json:"recipes"`
}

// NewCatalog compiles recipes into a catalog, preserving their order.
func NewCatalog(recipes ...Recipe) (*Catalog, error) {
	c := &Catalog{Recipes: recipes}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultCatalog returns the embedded storefront catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a YAML catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe catalog '%s': %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("recipe catalog '%s': %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a YAML catalog. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode recipe catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate compiles every recipe and checks structural rules. It returns all
// problems joined together.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Recipes))
	for i := range c.Recipes {
		r := &c.Recipes[i]
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("recipe #%d has no name", i))
		} else if seen[r.Name] {
			errs = append(errs, fmt.Errorf("recipe name '%s' is used more than once", r.Name))
		}
		seen[r.Name] = true
		if r.Method == "" {
			r.Method = MatchExact
		}
		if err := r.Compile(); err != nil {
			errs = append(errs, err)
		}
		r.Walk(func(n *Node, path []string) {
			if strings.TrimSpace(n.Selector) == "" {
				errs = append(errs, fmt.Errorf("recipe '%s': node at %s has an empty selector", r.Name, strings.Join(path, " > ")))
			}
			if n.NameFromText && n.Name != "" {
				errs = append(errs, fmt.Errorf("recipe '%s': node '%s' sets both name and name_from_text", r.Name, n.Name))
			}
		})
	}
	return errors.Join(errs...)
}

// Lint reports non-fatal issues, such as a name used by more than one node
// in the same recipe (the extractor keeps the last one visited).
func (c *Catalog) Lint() []string {
	var warnings []string
	for i := range c.Recipes {
		r := &c.Recipes[i]
		counts := make(map[string]int)
		r.Walk(func(n *Node, _ []string) {
			if n.Name != "" {
				counts[n.Name]++
			}
		})
		for name, n := range counts {
			if n > 1 {
				warnings = append(warnings, fmt.Sprintf("recipe '%s': name '%s' is defined %d times; the last node visited wins", r.Name, name, n))
			}
		}
		if len(r.Root.Children) == 0 && !r.Root.Named() {
			warnings = append(warnings, fmt.Sprintf("recipe '%s' names no elements", r.Name))
		}
	}
	return warnings
}

// Match returns the first recipe whose pattern matches the path of rawURL.
// It returns ErrNoRecipeMatched when none do.
func (c *Catalog) Match(rawURL string) (*Recipe, error) {
	path := PathOf(rawURL)
	for i := range c.Recipes {
		if c.Recipes[i].Matches(path) {
			return &c.Recipes[i], nil
		}
	}
	return nil, fmt.Errorf("%w for path '%s'", ErrNoRecipeMatched, path)
}

// Get returns the recipe with the given name.
func (c *Catalog) Get(name string) (*Recipe, bool) {
	for i := range c.Recipes {
		if c.Recipes[i].Name == name {
			return &c.Recipes[i], true
		}
	}
	return nil, false
}

// PathOf extracts the path component of a URL. Inputs that do not parse as a
// URL are returned as is, and an empty path becomes "/".
func PathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Path == "" {
		if u.Host != "" || u.Scheme != "" {
			return "/"
		}
		return rawURL
	}
	return u.Path
}
