package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/browser/cdp"
	"github.com/xkilldash9x/wayfarer/internal/browser/static"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/planner"
	"github.com/xkilldash9x/wayfarer/internal/recipe"
	"github.com/xkilldash9x/wayfarer/internal/results"
	"github.com/xkilldash9x/wayfarer/internal/store"
)

// Components are the long-lived pieces a Runner is assembled from. Close
// releases them in reverse order of creation.
type Components struct {
	Deps    Deps
	closers []func()
}

// Close releases browsers and database pools.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// LoadCatalog returns the configured recipe catalog, the embedded default
// when no path is set, or nil when recipes are disabled.
func LoadCatalog(cfg config.RecipesConfig) (*recipe.Catalog, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Path == "" {
		return recipe.DefaultCatalog()
	}
	return recipe.LoadCatalog(cfg.Path)
}

// NewPageFactory returns the page factory for the configured driver. The
// returned func releases the shared browser, if any.
func NewPageFactory(ctx context.Context, cfg config.Interface, logger *zap.Logger) (PageFactory, func(), error) {
	switch cfg.Browser().Driver {
	case "static":
		netCfg := cfg.Network()
		return func(_ context.Context, persona schemas.Persona) (Page, error) {
			p, err := static.New(logger, static.Options{Persona: persona, Network: netCfg})
			if err != nil {
				return nil, err
			}
			return p, nil
		}, func() {}, nil
	case "cdp", "":
		b, err := cdp.NewBrowser(ctx, cfg.Browser(), cfg.Network(), logger)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := b.Close(context.Background()); err != nil {
				logger.Warn("Browser shutdown failed", zap.Error(err))
			}
		}
		return func(ctx context.Context, persona schemas.Persona) (Page, error) {
			p, err := b.NewPage(ctx, persona)
			if err != nil {
				return nil, err
			}
			return p, nil
		}, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser driver '%s'", cfg.Browser().Driver)
	}
}

// Assemble builds every collaborator named by cfg: page factory, planner,
// catalog, metrics and report sinks. The results writer is always a sink;
// the database store is added when database.url is set.
func Assemble(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	catalog, err := LoadCatalog(cfg.Recipes())
	if err != nil {
		return nil, err
	}

	plan, err := planner.New(ctx, cfg.Planner(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}

	writer, err := results.NewWriter(cfg.Output(), logger)
	if err != nil {
		return nil, err
	}
	sinks := []schemas.HistoryStore{writer}

	if url := cfg.Database().URL; url != "" {
		st, closeDB, err := store.Connect(ctx, url, logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, closeDB)
		sinks = append(sinks, st)
	}

	var metrics *observability.Metrics
	if cfg.Metrics().Enabled {
		metrics = observability.DefaultMetrics()
	}

	pages, closeBrowser, err := NewPageFactory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, closeBrowser)

	c.Deps = Deps{
		Pages:   pages,
		Planner: plan,
		Catalog: catalog,
		Metrics: metrics,
		Sinks:   sinks,
		Logger:  logger,
	}
	ok = true
	return c, nil
}
