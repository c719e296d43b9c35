// Package session sequences instructions against one page. It owns the step
// budget, the schema cache and the step history, and decides when a session
// terminates.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/recipe"
	"github.com/xkilldash9x/wayfarer/internal/resolver"
	"go.uber.org/zap"
)

// Options configure a Machine.
type Options struct {
	MaxSteps int
	// DonePattern is a regular expression over the current URL path that
	// marks the goal as reached. Empty disables detection.
	DonePattern       string
	ContinueOnFailure bool
	GenericFallback   bool
	CacheSize         int
	NavigationTimeout time.Duration
	LoadTimeout       time.Duration
	ScreenshotOnDone  bool
	Resolver          resolver.Options
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxSteps:          50,
		DonePattern:       "/cart",
		ContinueOnFailure: true,
		GenericFallback:   true,
		CacheSize:         defaultCacheSize,
		NavigationTimeout: 30 * time.Second,
		LoadTimeout:       8 * time.Second,
		ScreenshotOnDone:  true,
		Resolver:          resolver.DefaultOptions(),
	}
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Page    schemas.Page
	Locator schemas.Locator
	// Catalog may be nil, in which case no observation is extracted.
	Catalog   *recipe.Catalog
	Extractor *recipe.Extractor
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Machine is the step/session state machine for one page.
type Machine struct {
	id        string
	page      schemas.Page
	catalog   *recipe.Catalog
	extractor *recipe.Extractor
	resolver  *resolver.Resolver
	logger    *zap.Logger
	metrics   *observability.Metrics
	opts      Options
	done      *regexp.Regexp

	phase       Phase
	state       *State
	observation *schemas.Observation
	lastTitle   string
	startedAt   time.Time
	screenshot  []byte
}

var _ resolver.Observer = (*Machine)(nil)

// New creates a Machine in the Ready phase.
func New(id string, deps Deps, opts Options) (*Machine, error) {
	if deps.Page == nil || deps.Locator == nil {
		return nil, errors.New("session requires a page and a locator")
	}
	if opts.MaxSteps <= 0 {
		return nil, fmt.Errorf("max steps must be positive, got %d", opts.MaxSteps)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session").With(zap.String("session_id", id))

	var done *regexp.Regexp
	if opts.DonePattern != "" {
		re, err := regexp.Compile(opts.DonePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid done pattern '%s': %w", opts.DonePattern, err)
		}
		done = re
	}

	extractor := deps.Extractor
	if extractor == nil && deps.Catalog != nil {
		extractor = recipe.NewExtractor(logger)
	}

	ropts := opts.Resolver
	ropts.Metrics = deps.Metrics

	return &Machine{
		id:        id,
		page:      deps.Page,
		catalog:   deps.Catalog,
		extractor: extractor,
		resolver:  resolver.New(deps.Page, deps.Locator, logger, ropts),
		logger:    logger,
		metrics:   deps.Metrics,
		opts:      opts,
		done:      done,
		phase:     PhaseReady,
		state:     newState(opts.MaxSteps, opts.CacheSize),
	}, nil
}

// ID returns the session identifier.
func (m *Machine) ID() string { return m.id }

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// State exposes the session state. Callers must not mutate it while the
// session is running.
func (m *Machine) State() *State { return m.state }

// Start navigates to startURL and enters the Executing phase. The step count
// is reset. Load completion is awaited best-effort within LoadTimeout.
func (m *Machine) Start(ctx context.Context, startURL string) error {
	if m.phase == PhaseTerminated {
		return errors.New("session already terminated")
	}
	m.startedAt = time.Now()
	m.state.StepCount = 0
	m.phase = PhaseNavigating

	m.logger.Info("Starting session", zap.String("url", startURL), zap.Int("max_steps", m.state.MaxSteps))
	if err := m.navigate(ctx, startURL); err != nil {
		m.phase = PhaseTerminated
		return err
	}
	m.phase = PhaseExecuting
	return nil
}

func (m *Machine) navigate(ctx context.Context, rawURL string) error {
	navCtx := ctx
	if m.opts.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, m.opts.NavigationTimeout)
		defer cancel()
	}
	res, err := m.page.Navigate(navCtx, rawURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", schemas.ErrNavigation, rawURL, err)
	}
	m.state.CurrentURL = res.URL

	if m.opts.LoadTimeout > 0 {
		loadCtx, cancel := context.WithTimeout(ctx, m.opts.LoadTimeout)
		defer cancel()
		if err := m.page.WaitQuiescent(loadCtx, m.opts.LoadTimeout); err != nil {
			if schemas.IsFatal(err) {
				return err
			}
			// Partial readiness is accepted.
			m.logger.Debug("Page did not fully settle after navigation", zap.String("url", res.URL), zap.Error(err))
		}
	}
	m.refreshLocation(ctx)
	return nil
}

// Run drives the step loop until the source is exhausted or the session
// terminates. Budget, goal and cancellation are checked at the top of every
// iteration, never during a step. The returned error is non-nil only for
// failures that end the session abnormally.
func (m *Machine) Run(ctx context.Context, source schemas.InstructionSource) (*schemas.SessionReport, error) {
	if m.phase != PhaseExecuting {
		return nil, fmt.Errorf("session is %s, not executing", m.phase)
	}
	m.metrics.SessionStarted()

	for {
		if err := ctx.Err(); err != nil {
			return m.terminate(ctx, schemas.ReasonCanceled, err), nil
		}
		if m.goalReached() {
			return m.terminate(ctx, schemas.ReasonDone, nil), nil
		}

		instr, ok, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return m.terminate(ctx, schemas.ReasonCanceled, err), nil
			}
			report := m.terminate(ctx, schemas.ReasonStepFailed, err)
			return report, fmt.Errorf("instruction source failed: %w", err)
		}
		if !ok {
			return m.terminate(ctx, schemas.ReasonExhausted, nil), nil
		}

		if m.state.budgetExhausted() {
			m.logger.Info("Step budget exhausted", zap.Int("max_steps", m.state.MaxSteps))
			return m.terminate(ctx, schemas.ReasonBudget, schemas.ErrStepBudgetExceeded), nil
		}

		result, err := m.Step(ctx, instr)
		if ctx.Err() != nil && (err != nil || !result.Success) {
			// A step cut short by cancellation ends the session as canceled.
			return m.terminate(ctx, schemas.ReasonCanceled, ctx.Err()), nil
		}
		if err != nil {
			report := m.terminate(ctx, schemas.ReasonTransport, err)
			return report, err
		}
		if !result.Success && !m.opts.ContinueOnFailure {
			return m.terminate(ctx, schemas.ReasonStepFailed, errors.New(result.Error)), nil
		}
	}
}

// Step executes one instruction and appends its result to the history. The
// returned error is non-nil only for transport failures, which must end the
// session; every other failure is reported through the StepResult.
func (m *Machine) Step(ctx context.Context, instr schemas.Instruction) (schemas.StepResult, error) {
	if m.phase != PhaseExecuting {
		return schemas.StepResult{}, fmt.Errorf("session is %s, not executing", m.phase)
	}
	m.state.StepCount++
	start := time.Now()
	result := schemas.StepResult{
		Step:      m.state.StepCount,
		Action:    instr,
		StartedAt: start,
	}
	log := m.logger.With(zap.Int("step", result.Step), zap.String("instruction", instr.String()))

	finish := func(err error) (schemas.StepResult, error) {
		m.refreshLocation(ctx)
		result.ResultingURL = m.state.CurrentURL
		result.ResultingTitle = m.lastTitle
		result.Duration = time.Since(start)
		result.Success = err == nil
		if err != nil {
			result.Error = err.Error()
			result.ErrorCode = string(schemas.CodeOf(err))
			log.Warn("Step failed", zap.String("code", result.ErrorCode), zap.Error(err))
		} else {
			log.Info("Step succeeded",
				zap.String("intent", string(result.Intent)),
				zap.String("strategy", result.Strategy),
				zap.String("fallback", result.Fallback),
				zap.String("url", result.ResultingURL))
		}
		m.state.record(result)
		m.metrics.ObserveStep(string(result.Intent), result.Success, result.Duration)
		if err != nil && schemas.IsFatal(err) {
			return result, err
		}
		return result, nil
	}

	action, err := resolver.Parse(instr)
	if err != nil {
		return finish(err)
	}
	result.Intent = action.Intent

	obs, err := m.Observe(ctx)
	if err != nil {
		return finish(err)
	}

	if action.Intent == schemas.IntentExtract {
		if obs != nil {
			result.Observation = sortedNames(obs)
		}
		result.Strategy = string(resolver.StrategyDirect)
		return finish(nil)
	}

	pageURL := m.state.CurrentURL
	key := instr.String()
	req := resolver.Request{Instruction: instr, Observation: obs, Observer: m}
	if entry, ok := m.state.Cache.Get(pageURL, key); ok {
		req.Preferred = entry.Strategy
		log.Debug("Schema cache hit", zap.String("strategy", string(entry.Strategy)))
	}

	explicitNav := action.Intent == schemas.IntentNavigate && action.Value != ""
	if explicitNav {
		m.phase = PhaseNavigating
	}
	outcome, err := m.resolver.Execute(ctx, action, req)
	if explicitNav {
		m.phase = PhaseExecuting
	}

	if err != nil && m.opts.GenericFallback && recoverable(err) && !explicitNav && action.Intent != schemas.IntentDismiss {
		log.Debug("Resolution failed, trying generic fallback", zap.Error(err))
		fallbackOutcome, fbErr := m.resolver.ResolveGeneric(ctx, req)
		if fbErr == nil {
			outcome, err = fallbackOutcome, nil
		} else if schemas.IsFatal(fbErr) {
			err = fbErr
		} else {
			err = fmt.Errorf("%w (generic fallback: %v)", err, fbErr)
		}
	}

	result.Strategy = string(outcome.Strategy)
	result.Fallback = string(outcome.Fallback)
	if err == nil && outcome.Strategy != resolver.StrategyDirect && outcome.Strategy != "" {
		m.state.Cache.Put(pageURL, key, outcome.Strategy)
	}
	return finish(err)
}

// Observe matches the current URL against the catalog and extracts the
// observation. It returns nil without error when there is no catalog or no
// recipe matches.
func (m *Machine) Observe(ctx context.Context) (*schemas.Observation, error) {
	if m.catalog == nil {
		return nil, nil
	}
	loc, err := m.page.Location(ctx)
	if err != nil {
		if schemas.IsFatal(err) {
			return nil, fmt.Errorf("%w: %w", schemas.ErrExtractionTransport, err)
		}
		return nil, nil
	}
	r, err := m.catalog.Match(loc.URL)
	if err != nil {
		if errors.Is(err, schemas.ErrNoRecipeMatched) {
			m.logger.Debug("No recipe for page", zap.String("url", loc.URL))
			m.observation = nil
			return nil, nil
		}
		return nil, err
	}
	obs, err := m.extractor.Extract(ctx, m.page, r)
	if err != nil {
		return nil, err
	}
	m.observation = &obs
	return m.observation, nil
}

// refreshLocation records the page's current URL and title. Failures keep the
// previous values.
func (m *Machine) refreshLocation(ctx context.Context) {
	loc, err := m.page.Location(ctx)
	if err != nil {
		m.logger.Debug("Could not read page location", zap.Error(err))
		return
	}
	m.state.CurrentURL = loc.URL
	m.lastTitle = loc.Title
}

// recoverable reports whether a failed step may be retried with the generic
// fallback.
func recoverable(err error) bool {
	return errors.Is(err, schemas.ErrTargetNotFound) || errors.Is(err, schemas.ErrInteractionFailed)
}

func (m *Machine) goalReached() bool {
	if m.done == nil || m.state.CurrentURL == "" {
		return false
	}
	return m.done.MatchString(recipe.PathOf(m.state.CurrentURL))
}

func (m *Machine) terminate(ctx context.Context, reason schemas.TerminationReason, cause error) *schemas.SessionReport {
	m.phase = PhaseTerminated
	if reason == schemas.ReasonDone && m.opts.ScreenshotOnDone {
		shot, err := m.page.Screenshot(ctx)
		if err != nil && !errors.Is(err, schemas.ErrUnsupported) {
			m.logger.Debug("Screenshot failed", zap.Error(err))
		}
		m.screenshot = shot
	}

	m.logger.Info("Session terminated",
		zap.String("reason", string(reason)),
		zap.Int("steps", m.state.StepCount),
		zap.String("url", m.state.CurrentURL))
	m.metrics.SessionFinished(string(reason))

	report := &schemas.SessionReport{
		SessionID:  m.id,
		Reason:     reason,
		Steps:      m.state.StepCount,
		MaxSteps:   m.state.MaxSteps,
		FinalURL:   m.state.CurrentURL,
		FinalTitle: m.lastTitle,
		History:    append([]schemas.StepResult(nil), m.state.History...),
		StartedAt:  m.startedAt,
		FinishedAt: time.Now(),
		Screenshot: m.screenshot,
	}
	if cause != nil {
		report.Error = cause.Error()
	}
	return report
}

func sortedNames(obs *schemas.Observation) []string {
	names := obs.Names()
	sort.Strings(names)
	return names
}
