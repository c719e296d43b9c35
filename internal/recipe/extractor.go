package recipe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/target"
	"go.uber.org/zap"
)

// ErrExtractionTransport is returned when the page or driver goes away during
// a walk. Missing optional content never produces an error.
var ErrExtractionTransport = schemas.ErrExtractionTransport

// Extractor walks recipes against live pages.
type Extractor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{
		logger: logger.Named("extractor"),
		now:    time.Now,
	}
}

// walkState carries per-call state through the recursion.
type walkState struct {
	page   schemas.Page
	recipe *Recipe
	obs    schemas.Observation
}

// Extract walks r against page and returns the named observation. The root
// resolves against the whole document and each child within the first element
// its parent matched. Nodes with no match are skipped along with their subtree.
func (e *Extractor) Extract(ctx context.Context, page schemas.Page, r *Recipe) (schemas.Observation, error) {
	loc, err := page.Location(ctx)
	if err != nil && isTransport(ctx, err) {
		return schemas.Observation{}, walkFailure(ctx, err)
	}

	st := &walkState{
		page:   page,
		recipe: r,
		obs:    schemas.NewObservation(r.Name, loc.URL),
	}
	if err := e.walk(ctx, st, &r.Root, nil, nil); err != nil {
		return schemas.Observation{}, err
	}

	e.logger.Debug("Recipe extracted",
		zap.String("recipe", r.Name),
		zap.String("url", loc.URL),
		zap.Int("named", st.obs.Len()))
	return st.obs, nil
}

func (e *Extractor) walk(ctx context.Context, st *walkState, n *Node, scope schemas.ElementHandle, path []string) error {
	path = append(path[:len(path):len(path)], n.Selector)

	h, err := st.page.Query(ctx, scope, n.Selector)
	if err != nil {
		if isTransport(ctx, err) {
			return walkFailure(ctx, err)
		}
		e.logger.Debug("Selector query failed, skipping node",
			zap.String("recipe", st.recipe.Name),
			zap.String("selector", n.Selector),
			zap.Error(err))
		return nil
	}
	if h == nil {
		return nil
	}

	if n.Named() {
		if err := e.record(ctx, st, n, h, path); err != nil {
			return err
		}
	}

	for i := range n.Children {
		if err := e.walk(ctx, st, &n.Children[i], h, path); err != nil {
			return err
		}
	}
	return nil
}

// record stores a snapshot for n. A name reused within the tree is
// overwritten by the last node visited.
func (e *Extractor) record(ctx context.Context, st *walkState, n *Node, h schemas.ElementHandle, path []string) error {
	info, err := st.page.Describe(ctx, h)
	if err != nil {
		if isTransport(ctx, err) {
			return walkFailure(ctx, err)
		}
		e.logger.Debug("Describe failed, recording bare snapshot", zap.String("selector", n.Selector), zap.Error(err))
	}

	name := n.Name
	if n.NameFromText {
		name, err = e.deriveName(ctx, st.page, n, h, info)
		if err != nil {
			return err
		}
		if name == "" {
			return nil
		}
	}

	snap := schemas.ElementSnapshot{
		Clickable: n.Clickable,
		Handle:    h,
		Ref: schemas.ObservationRef{
			Recipe:   st.recipe.Name,
			Name:     name,
			Selector: path,
		},
		ResolvedAt: e.now(),
	}
	if n.CaptureText {
		text := collapseSpace(info.Text)
		snap.Text = &text
	}
	if len(n.Attributes) > 0 {
		snap.Attributes = make(map[string]string, len(n.Attributes))
		for _, attr := range n.Attributes {
			if v, ok := info.Attributes[attr]; ok {
				snap.Attributes[attr] = v
			}
		}
	}

	if _, dup := st.obs.Elements[name]; dup {
		e.logger.Debug("Duplicate observation name, keeping last", zap.String("recipe", st.recipe.Name), zap.String("name", name))
	}
	st.obs.Elements[name] = snap
	return nil
}

func (e *Extractor) deriveName(ctx context.Context, page schemas.Page, n *Node, h schemas.ElementHandle, info schemas.ElementInfo) (string, error) {
	text := info.Text
	if n.TextSelector != "" {
		th, err := page.Query(ctx, h, n.TextSelector)
		if err != nil {
			if isTransport(ctx, err) {
				return "", walkFailure(ctx, err)
			}
			return "", nil
		}
		if th == nil {
			return "", nil
		}
		ti, err := page.Describe(ctx, th)
		if err != nil {
			if isTransport(ctx, err) {
				return "", walkFailure(ctx, err)
			}
			return "", nil
		}
		text = ti.Text
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return target.Normalize(text, target.RoleClickable) + n.NameSuffix, nil
}

// isTransport reports whether err means the walk cannot continue.
func isTransport(ctx context.Context, err error) bool {
	return errors.Is(err, schemas.ErrTransport) || ctx.Err() != nil
}

// walkFailure wraps an error that ended the walk. Cancellation is reported as
// the context error, not as a transport failure.
func walkFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("extraction interrupted: %w", ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrExtractionTransport, err)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
