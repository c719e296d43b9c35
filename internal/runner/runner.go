// Package runner executes independent sessions concurrently, one page per
// session, and hands every finished report to the configured sinks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/locator"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/recipe"
	"github.com/xkilldash9x/wayfarer/internal/resolver"
	"github.com/xkilldash9x/wayfarer/internal/session"
)

// Page is a browser page owned by exactly one session.
type Page interface {
	schemas.Page
	Close() error
}

// PageFactory opens a fresh page for a persona.
type PageFactory func(ctx context.Context, persona schemas.Persona) (Page, error)

// Job is one session to run.
type Job struct {
	Target string
	Goal   string
	// Instructions are run as given. When empty the planner builds them
	// from Goal.
	Instructions []schemas.Instruction
	Persona      schemas.Persona
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Pages   PageFactory
	Planner schemas.Planner
	// Catalog may be nil to disable recipe extraction.
	Catalog *recipe.Catalog
	Metrics *observability.Metrics
	Sinks   []schemas.HistoryStore
	Logger  *zap.Logger
	// NewID overrides session id generation.
	NewID func() string
}

// Runner runs jobs with bounded concurrency.
type Runner struct {
	cfg    config.Interface
	deps   Deps
	logger *zap.Logger
}

// New creates a Runner.
func New(cfg config.Interface, deps Deps) (*Runner, error) {
	if cfg == nil || deps.Pages == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("runner"),
	}, nil
}

// Run executes jobs with at most session.concurrency sessions in flight.
// Reports are returned in job order. A session that fails abnormally still
// yields a report; its error is joined into the returned error. Cancelling
// ctx stops every session at its next step boundary.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]*schemas.SessionReport, error) {
	limit := r.cfg.Session().Concurrency
	if limit <= 0 {
		limit = 1
	}
	r.logger.Info("Runner starting", zap.Int("jobs", len(jobs)), zap.Int("concurrency", limit))

	reports := make([]*schemas.SessionReport, len(jobs))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			report, err := r.RunOne(gctx, job)
			reports[i] = report
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %s (%s): %w", report.SessionID, job.Target, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("Runner finished", zap.Int("sessions", len(reports)), zap.Int("failed", len(errs)))
	return reports, errors.Join(errs...)
}

// RunOne runs a single job to completion and stores its report. The
// returned report is never nil.
func (r *Runner) RunOne(ctx context.Context, job Job) (*schemas.SessionReport, error) {
	id := r.deps.NewID()
	logger := r.logger.With(zap.String("session_id", id), zap.String("target", job.Target))
	report, err := r.runSession(ctx, id, job, logger)
	if report == nil {
		report = &schemas.SessionReport{Reason: reasonFor(ctx)}
	}
	report.SessionID = id
	report.Target = job.Target
	report.Goal = job.Goal
	report.Persona = job.Persona.Name
	if report.MaxSteps == 0 {
		report.MaxSteps = r.cfg.Session().MaxSteps
	}
	if err != nil && report.Error == "" {
		report.Error = err.Error()
	}

	// Sinks get their own context so a cancelled run is still recorded.
	saveCtx := context.WithoutCancel(ctx)
	for _, sink := range r.deps.Sinks {
		if sinkErr := sink.SaveSession(saveCtx, report); sinkErr != nil {
			logger.Error("Failed to save session report", zap.Error(sinkErr))
			err = errors.Join(err, sinkErr)
		}
	}
	return report, err
}

func (r *Runner) runSession(ctx context.Context, id string, job Job, logger *zap.Logger) (*schemas.SessionReport, error) {
	startURL, err := NormalizeTarget(job.Target)
	if err != nil {
		return failedReport(schemas.ReasonStepFailed, err), err
	}

	instructions := job.Instructions
	if len(instructions) == 0 {
		if r.deps.Planner == nil {
			err := errors.New("job has no instructions and no planner is configured")
			return failedReport(schemas.ReasonStepFailed, err), err
		}
		instructions, err = r.deps.Planner.Plan(ctx, schemas.PlanRequest{Goal: job.Goal, URL: startURL, Persona: job.Persona.Name})
		if err != nil {
			return failedReport(reasonFor(ctx), err), fmt.Errorf("planning failed: %w", err)
		}
		logger.Info("Plan ready", zap.Int("steps", len(instructions)))
	}

	page, err := r.deps.Pages(ctx, job.Persona)
	if err != nil {
		reason := reasonFor(ctx)
		if reason != schemas.ReasonCanceled && schemas.IsFatal(err) {
			reason = schemas.ReasonTransport
		}
		return failedReport(reason, err), fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Debug("Page close failed", zap.Error(cerr))
		}
	}()

	lcfg := r.cfg.Locator()
	loc := locator.NewThrottled(locator.NewLexical(page, logger, lcfg.MinScore), lcfg.RateLimit, lcfg.Burst)

	var catalog *recipe.Catalog
	if r.cfg.Recipes().Enabled {
		catalog = r.deps.Catalog
	}

	m, err := session.New(id, session.Deps{
		Page:    page,
		Locator: loc,
		Catalog: catalog,
		Logger:  logger,
		Metrics: r.deps.Metrics,
	}, r.sessionOptions())
	if err != nil {
		return failedReport(schemas.ReasonStepFailed, err), err
	}

	if err := m.Start(ctx, startURL); err != nil {
		reason := reasonFor(ctx)
		if reason != schemas.ReasonCanceled && schemas.IsFatal(err) {
			reason = schemas.ReasonTransport
		}
		return failedReport(reason, err), err
	}
	return m.Run(ctx, schemas.NewSliceSource(instructions))
}

func (r *Runner) sessionOptions() session.Options {
	s := r.cfg.Session()
	n := r.cfg.Network()
	rc := r.cfg.Resolver()
	return session.Options{
		MaxSteps:          s.MaxSteps,
		DonePattern:       s.DonePattern,
		ContinueOnFailure: s.ContinueOnFailure,
		GenericFallback:   s.GenericFallback,
		CacheSize:         s.CacheSize,
		NavigationTimeout: n.NavigationTimeout,
		LoadTimeout:       n.LoadTimeout,
		ScreenshotOnDone:  s.ScreenshotOnDone,
		Resolver: resolver.Options{
			Settle:         rc.SettleWindow,
			FallbackSettle: rc.FallbackSettleWindow,
			ScrollStep:     rc.ScrollStep,
			MaxWait:        rc.MaxWait,
		},
	}
}

func reasonFor(ctx context.Context) schemas.TerminationReason {
	if ctx.Err() != nil {
		return schemas.ReasonCanceled
	}
	return schemas.ReasonStepFailed
}

func failedReport(reason schemas.TerminationReason, err error) *schemas.SessionReport {
	return &schemas.SessionReport{Reason: reason, Error: err.Error()}
}

// NormalizeTarget turns a bare host into an https URL and rejects anything
// that is not http(s) with a host.
func NormalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty target")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid target '%s': %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme '%s' in target '%s'", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("target '%s' has no host", raw)
	}
	return u.String(), nil
}

// Persona builds the browsing persona from the browser configuration.
func Persona(name string, cfg config.BrowserConfig) schemas.Persona {
	p := schemas.Persona{
		Name:      name,
		UserAgent: cfg.UserAgent,
		Languages: cfg.Languages,
	}
	if w, ok := cfg.Viewport["width"]; ok {
		p.Width = int64(w)
	}
	if h, ok := cfg.Viewport["height"]; ok {
		p.Height = int64(h)
	}
	return p
}
