// Package resolver turns one instruction into a DOM interaction. It classifies
// the instruction, canonicalizes its target, and walks an ordered chain of
// resolution strategies with requery, retry and terminal fallbacks.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/target"
	"go.uber.org/zap"
)

// Strategy names one way of resolving a target.
type Strategy string

const (
	StrategyIdentifier  Strategy = "identifier"
	StrategyGenericRole Strategy = "generic_role"
	StrategyPrompt      Strategy = "prompt"
	StrategyRecipe      Strategy = "recipe"
	// StrategyDirect covers intents that need no element (scroll, submit,
	// navigation by URL, waits).
	StrategyDirect Strategy = "direct"
)

// Fallback names the escalation that made an interaction succeed.
type Fallback string

const (
	FallbackNone     Fallback = ""
	FallbackRetry    Fallback = "retry"
	FallbackHref     Fallback = "href"
	FallbackDispatch Fallback = "dispatch"
	FallbackGeneric  Fallback = "generic"
)

// DefaultOrder is the resolution chain. Recipe handles come from an earlier
// observation and may be stale, so live lookups are tried first.
var DefaultOrder = []Strategy{StrategyIdentifier, StrategyGenericRole, StrategyPrompt, StrategyRecipe}

// Observer re-extracts the current page's observation. It is used to
// re-resolve recipe targets whose handles went stale.
type Observer interface {
	Observe(ctx context.Context) (*schemas.Observation, error)
}

// Request is the input to Resolve.
type Request struct {
	Instruction schemas.Instruction
	// Observation is the latest recipe observation, or nil.
	Observation *schemas.Observation
	// Preferred is tried first when set, typically from the schema cache.
	Preferred Strategy
	Observer  Observer
}

// Outcome describes a successful resolution.
type Outcome struct {
	Action   schemas.ResolvedAction
	Strategy Strategy
	Fallback Fallback
}

// Options tune the resolver.
type Options struct {
	// Settle is the bounded quiescence wait after a successful action.
	Settle time.Duration
	// FallbackSettle is used by ResolveGeneric.
	FallbackSettle time.Duration
	// ScrollStep is the scroll magnitude in pixels.
	ScrollStep int
	// MaxWait caps explicit wait instructions.
	MaxWait time.Duration
	Metrics *observability.Metrics
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		Settle:         1500 * time.Millisecond,
		FallbackSettle: 1000 * time.Millisecond,
		ScrollStep:     500,
		MaxWait:        10 * time.Second,
	}
}

// Resolver executes instructions against one page.
type Resolver struct {
	page    schemas.Page
	locator schemas.Locator
	logger  *zap.Logger
	opts    Options
}

// New creates a Resolver.
func New(page schemas.Page, locator schemas.Locator, logger *zap.Logger, opts Options) *Resolver {
	def := DefaultOptions()
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.ScrollStep <= 0 {
		opts.ScrollStep = def.ScrollStep
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = def.MaxWait
	}
	return &Resolver{
		page:    page,
		locator: locator,
		logger:  logger.Named("resolver"),
		opts:    opts,
	}
}

// Resolve parses and executes one instruction. An exhausted chain returns
// schemas.ErrTargetNotFound; transport failures are returned as is.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	action, err := Parse(req.Instruction)
	if err != nil {
		return Outcome{}, err
	}
	return r.Execute(ctx, action, req)
}

// Execute runs an already parsed action.
func (r *Resolver) Execute(ctx context.Context, action schemas.ResolvedAction, req Request) (Outcome, error) {
	out := Outcome{Action: action, Strategy: StrategyDirect}

	switch action.Intent {
	case schemas.IntentScroll:
		dy := r.opts.ScrollStep
		if action.Value == "up" {
			dy = -dy
		}
		if err := r.page.Scroll(ctx, dy); err != nil {
			return out, fmt.Errorf("scroll %s failed: %w", action.Value, err)
		}
		r.settle(ctx, r.opts.Settle)
		return out, nil

	case schemas.IntentSubmit:
		if err := r.page.PressKey(ctx, "Enter"); err != nil {
			return out, fmt.Errorf("submit failed: %w", err)
		}
		r.settle(ctx, r.opts.Settle)
		return out, nil

	case schemas.IntentWait:
		return out, r.wait(ctx, action.Value)

	case schemas.IntentExtract:
		return out, nil

	case schemas.IntentDismiss:
		return r.dismiss(ctx, action, req)

	case schemas.IntentNavigate:
		if action.Value != "" {
			if _, err := r.page.Navigate(ctx, action.Value); err != nil {
				return out, fmt.Errorf("%w: %s: %w", schemas.ErrNavigation, action.Value, err)
			}
			r.settle(ctx, r.opts.Settle)
			return out, nil
		}
	}

	return r.interact(ctx, action, req, r.opts.Settle)
}

// ResolveGeneric runs the most permissive click chain against the raw
// instruction text. Sessions call it once when a step failed to resolve.
func (r *Resolver) ResolveGeneric(ctx context.Context, req Request) (Outcome, error) {
	desc := req.Instruction.Text
	if req.Instruction.IsStructured() {
		desc = firstNonEmpty(req.Instruction.Target, req.Instruction.String())
	}
	desc = strings.TrimSpace(desc)
	action := schemas.ResolvedAction{
		Intent:      schemas.IntentClick,
		Target:      target.Normalize(desc, target.RoleClickable),
		Description: desc,
	}
	settle := r.opts.FallbackSettle
	if settle <= 0 {
		settle = r.opts.Settle
	}

	r.logger.Info("Applying generic fallback", zap.String("instruction", req.Instruction.String()))
	r.opts.Metrics.ObserveFallback(string(FallbackGeneric))

	req.Preferred = ""
	out, err := r.interact(ctx, action, req, settle)
	if err != nil {
		return out, err
	}
	out.Fallback = FallbackGeneric
	return out, nil
}

// popupControls are the observation names of popup close controls, in order
// of preference.
var popupControls = []string{"close_popup", "dismiss_overlay"}

// dismiss clicks a popup close control when one is present. A page without a
// popup is not a failure. Generic role lookups are never used.
func (r *Resolver) dismiss(ctx context.Context, action schemas.ResolvedAction, req Request) (Outcome, error) {
	out := Outcome{Action: action, Strategy: StrategyDirect}
	found, s, err := r.findPopupControl(ctx, req.Observation)
	if err != nil {
		return out, err
	}
	if found == nil {
		r.logger.Debug("No popup to dismiss")
		return out, nil
	}

	out.Strategy = s
	r.opts.Metrics.ObserveStrategy(string(s))
	fb, err := r.act(ctx, s, found, action, req)
	if err != nil {
		return out, err
	}
	out.Fallback = fb
	r.settle(ctx, r.opts.Settle)
	return out, nil
}

func (r *Resolver) findPopupControl(ctx context.Context, obs *schemas.Observation) (*resolved, Strategy, error) {
	if obs != nil {
		for _, name := range popupControls {
			if snap, ok := obs.Lookup(name); ok && snap.Clickable && snap.Handle != nil {
				return &resolved{handle: snap.Handle, snapshot: &snap}, StrategyRecipe, nil
			}
		}
	}
	h, err := r.locator.FindByIdentifier(ctx, popupControls[0])
	if err != nil {
		if schemas.IsFatal(err) || ctx.Err() != nil {
			return nil, "", err
		}
		r.logger.Debug("Popup control lookup failed", zap.Error(err))
		return nil, "", nil
	}
	if h == nil {
		return nil, "", nil
	}
	return &resolved{handle: h}, StrategyIdentifier, nil
}

// resolved is an element found by one strategy.
type resolved struct {
	handle   schemas.ElementHandle
	snapshot *schemas.ElementSnapshot
}

func (r *Resolver) interact(ctx context.Context, action schemas.ResolvedAction, req Request, settle time.Duration) (Outcome, error) {
	out := Outcome{Action: action}

	for _, s := range orderFor(req.Preferred) {
		found, err := r.lookup(ctx, s, action, req.Observation)
		if err != nil {
			if schemas.IsFatal(err) || ctx.Err() != nil {
				return out, err
			}
			r.logger.Debug("Strategy lookup failed", zap.String("strategy", string(s)), zap.Error(err))
			continue
		}
		if found == nil {
			r.logger.Debug("Strategy found nothing", zap.String("strategy", string(s)), zap.String("target", action.Target))
			continue
		}

		out.Strategy = s
		r.opts.Metrics.ObserveStrategy(string(s))
		r.logger.Debug("Target resolved",
			zap.String("strategy", string(s)),
			zap.String("target", action.Target),
			zap.String("ref", found.handle.Ref()))

		fb, err := r.act(ctx, s, found, action, req)
		if err != nil {
			return out, err
		}
		out.Fallback = fb
		r.settle(ctx, settle)
		return out, nil
	}

	return out, fmt.Errorf("%w: '%s' (%s)", schemas.ErrTargetNotFound, action.Description, action.Target)
}

// lookup runs one strategy. A nil result with a nil error means not found.
func (r *Resolver) lookup(ctx context.Context, s Strategy, action schemas.ResolvedAction, obs *schemas.Observation) (*resolved, error) {
	field := isFieldIntent(action.Intent)
	var (
		h   schemas.ElementHandle
		err error
	)
	switch s {
	case StrategyIdentifier:
		h, err = r.locator.FindByIdentifier(ctx, action.Target)
	case StrategyGenericRole:
		generic := target.GenericClickable
		if field {
			generic = target.GenericField
		}
		h, err = r.locator.FindByIdentifier(ctx, generic)
	case StrategyPrompt:
		prompt := action.Description
		if field {
			prompt = "input field for " + action.Description
		}
		h, err = r.locator.FindByPrompt(ctx, prompt)
	case StrategyRecipe:
		snap := matchObservation(obs, action.Target, !field)
		if snap == nil || snap.Handle == nil {
			return nil, nil
		}
		return &resolved{handle: snap.Handle, snapshot: snap}, nil
	default:
		return nil, fmt.Errorf("unknown strategy '%s'", s)
	}
	if err != nil || h == nil {
		return nil, err
	}
	return &resolved{handle: h}, nil
}

// act performs the action with requery, retry, href and dispatch fallbacks.
func (r *Resolver) act(ctx context.Context, s Strategy, found *resolved, action schemas.ResolvedAction, req Request) (Fallback, error) {
	kind := actKind(action.Intent)
	err := r.page.Act(ctx, found.handle, kind, action.Value)
	if err == nil {
		return FallbackNone, nil
	}
	if schemas.IsFatal(err) {
		return FallbackNone, err
	}

	if schemas.IsTransient(err) {
		r.logger.Debug("Transient interaction failure, requerying", zap.String("strategy", string(s)), zap.Error(err))
		r.opts.Metrics.ObserveFallback(string(FallbackRetry))
		if again := r.requery(ctx, s, action, req); again != nil {
			found = again
		}
		err = r.page.Act(ctx, found.handle, kind, action.Value)
		if err == nil {
			return FallbackRetry, nil
		}
		if schemas.IsFatal(err) {
			return FallbackNone, err
		}
	}

	if !isClickIntent(action.Intent) {
		return FallbackNone, fmt.Errorf("%w: %s '%s': %w", schemas.ErrInteractionFailed, action.Intent, action.Target, err)
	}

	if dest := r.hrefOf(ctx, found); dest != "" {
		r.logger.Info("Click failed, navigating to element href", zap.String("href", dest), zap.Error(err))
		r.opts.Metrics.ObserveFallback(string(FallbackHref))
		_, navErr := r.page.Navigate(ctx, dest)
		if navErr == nil {
			return FallbackHref, nil
		}
		if schemas.IsFatal(navErr) {
			return FallbackNone, navErr
		}
		err = errors.Join(err, navErr)
	} else {
		r.logger.Info("Click failed, dispatching low-level click", zap.Error(err))
		r.opts.Metrics.ObserveFallback(string(FallbackDispatch))
		dispatchErr := r.page.Act(ctx, found.handle, schemas.ActDispatchClick, "")
		if dispatchErr == nil {
			return FallbackDispatch, nil
		}
		if schemas.IsFatal(dispatchErr) {
			return FallbackNone, dispatchErr
		}
		err = errors.Join(err, dispatchErr)
	}

	return FallbackNone, fmt.Errorf("%w: click '%s': %w", schemas.ErrInteractionFailed, action.Target, err)
}

// requery repeats the lookup of the strategy that found the element. Recipe
// targets are re-extracted when an Observer is available.
func (r *Resolver) requery(ctx context.Context, s Strategy, action schemas.ResolvedAction, req Request) *resolved {
	obs := req.Observation
	if s == StrategyRecipe && req.Observer != nil {
		fresh, err := req.Observer.Observe(ctx)
		if err != nil {
			r.logger.Debug("Re-observation failed", zap.Error(err))
			return nil
		}
		obs = fresh
	}
	found, err := r.lookup(ctx, s, action, obs)
	if err != nil {
		r.logger.Debug("Requery failed", zap.String("strategy", string(s)), zap.Error(err))
		return nil
	}
	return found
}

// hrefOf returns the element's navigable reference as an absolute URL, or ""
// when it has none.
func (r *Resolver) hrefOf(ctx context.Context, found *resolved) string {
	var href string
	if info, err := r.page.Describe(ctx, found.handle); err == nil {
		href = info.Attributes["href"]
	}
	if href == "" && found.snapshot != nil {
		href, _ = found.snapshot.Attr("href")
	}
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(lower, "javascript:") {
		return ""
	}
	dest, err := r.absolute(ctx, href)
	if err != nil {
		r.logger.Debug("Unusable href", zap.String("href", href), zap.Error(err))
		return ""
	}
	return dest
}

func (r *Resolver) absolute(ctx context.Context, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	loc, err := r.page.Location(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(loc.URL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// settle waits for the page to quiesce, bounded by d. It never fails a step.
func (r *Resolver) settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := r.page.WaitQuiescent(sctx, d); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		r.logger.Debug("Settle wait ended early", zap.Error(err))
	}
}

func (r *Resolver) wait(ctx context.Context, value string) error {
	d := time.Second
	if ms, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && ms > 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	if d > r.opts.MaxWait {
		d = r.opts.MaxWait
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func orderFor(preferred Strategy) []Strategy {
	if preferred == "" || preferred == DefaultOrder[0] {
		return DefaultOrder
	}
	order := make([]Strategy, 0, len(DefaultOrder))
	known := false
	for _, s := range DefaultOrder {
		if s == preferred {
			known = true
		}
	}
	if !known {
		return DefaultOrder
	}
	order = append(order, preferred)
	for _, s := range DefaultOrder {
		if s != preferred {
			order = append(order, s)
		}
	}
	return order
}

func actKind(intent schemas.Intent) schemas.ActKind {
	switch intent {
	case schemas.IntentFill:
		return schemas.ActFill
	case schemas.IntentSelect:
		return schemas.ActSelect
	default:
		return schemas.ActClick
	}
}

func isFieldIntent(intent schemas.Intent) bool {
	return intent == schemas.IntentFill || intent == schemas.IntentSelect
}

func isClickIntent(intent schemas.Intent) bool {
	return !isFieldIntent(intent)
}
