package cdp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

const (
	defaultActionTimeout = 10 * time.Second
	quiescencePoll       = 100 * time.Millisecond
)

// handle is a stamped element reference.
type handle string

func (h handle) Ref() string { return string(h) }

// Page is one browser target.
type Page struct {
	logger *zap.Logger
	ctx    context.Context
	cancel func()
	netCfg config.NetworkConfig

	netMu     sync.Mutex
	inflight  map[network.RequestID]struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ schemas.Page = (*Page)(nil)

var keyNames = map[string]string{
	"enter":     kb.Enter,
	"return":    kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"backspace": kb.Backspace,
	"arrowdown": kb.ArrowDown,
	"arrowup":   kb.ArrowUp,
}

// trackNetwork records in-flight requests for WaitQuiescent. Redirects
// reuse their request ID, so a set is used rather than a counter.
func (p *Page) trackNetwork(ctx context.Context) error {
	p.inflight = make(map[network.RequestID]struct{})
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		p.netMu.Lock()
		defer p.netMu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			p.inflight[e.RequestID] = struct{}{}
		case *network.EventLoadingFinished:
			delete(p.inflight, e.RequestID)
		case *network.EventLoadingFailed:
			delete(p.inflight, e.RequestID)
		}
	})
	return p.run(ctx, 0, network.Enable())
}

func (p *Page) pendingRequests() int {
	p.netMu.Lock()
	defer p.netMu.Unlock()
	return len(p.inflight)
}

// Close shuts down the target and its browser.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()
		select {
		case err = <-done:
		case <-closeCtx.Done():
			err = closeCtx.Err()
		}
		p.cancel()
	})
	return err
}

func (p *Page) checkOpen() error {
	if p.closed.Load() || p.ctx.Err() != nil {
		return fmt.Errorf("%w: page closed", schemas.ErrTransport)
	}
	return nil
}

// run executes actions on the target bounded by ctx and timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return p.classify(ctx, chromedp.Run(runCtx, actions...))
}

// classify maps chromedp errors onto the shared sentinels.
func (p *Page) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case p.ctx.Err() != nil:
		return fmt.Errorf("%w: %v", schemas.ErrTransport, err)
	case ctx.Err() != nil:
		return fmt.Errorf("browser operation interrupted: %w", ctx.Err())
	default:
		return err
	}
}

func (p *Page) actionTimeout() time.Duration {
	if p.netCfg.ActionTimeout > 0 {
		return p.netCfg.ActionTimeout
	}
	return defaultActionTimeout
}

func (p *Page) eval(ctx context.Context, script string, res interface{}) error {
	return p.run(ctx, p.actionTimeout(), chromedp.Evaluate(script, res))
}

// Navigate loads targetURL, resolving it against the current location.
func (p *Page) Navigate(ctx context.Context, targetURL string) (schemas.NavigationResult, error) {
	resolved, err := p.resolveURL(ctx, targetURL)
	if err != nil {
		return schemas.NavigationResult{}, err
	}
	p.logger.Debug("Navigating", zap.String("url", resolved))

	err = p.run(ctx, p.netCfg.NavigationTimeout, chromedp.Navigate(resolved))
	if err != nil {
		if schemas.IsFatal(err) {
			return schemas.NavigationResult{}, err
		}
		return schemas.NavigationResult{}, fmt.Errorf("%w: '%s': %v", schemas.ErrNavigation, resolved, err)
	}
	return p.Location(ctx)
}

func (p *Page) resolveURL(ctx context.Context, target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve URL '%s': %w", target, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	loc, err := p.Location(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(loc.URL)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("cannot resolve relative URL '%s' without a current page", target)
	}
	return base.ResolveReference(u).String(), nil
}

// Location reports the current URL and title.
func (p *Page) Location(ctx context.Context) (schemas.NavigationResult, error) {
	var res schemas.NavigationResult
	err := p.run(ctx, p.actionTimeout(), chromedp.Location(&res.URL), chromedp.Title(&res.Title))
	return res, err
}

// Query returns the first element matching selector within scope.
func (p *Page) Query(ctx context.Context, scope schemas.ElementHandle, selector string) (schemas.ElementHandle, error) {
	refs, err := p.query(ctx, scope, selector, false)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	return handle(refs[0]), nil
}

// QueryAll returns every element matching selector within scope in document order.
func (p *Page) QueryAll(ctx context.Context, scope schemas.ElementHandle, selector string) ([]schemas.ElementHandle, error) {
	refs, err := p.query(ctx, scope, selector, true)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.ElementHandle, len(refs))
	for i, r := range refs {
		out[i] = handle(r)
	}
	return out, nil
}

func (p *Page) query(ctx context.Context, scope schemas.ElementHandle, selector string, all bool) ([]string, error) {
	scopeRef := ""
	if scope != nil {
		scopeRef = scope.Ref()
	}
	var res queryResult
	if err := p.eval(ctx, invoke(queryScript, scopeRef, selector, all), &res); err != nil {
		return nil, err
	}
	switch {
	case res.Detached:
		return nil, fmt.Errorf("scope %q is no longer attached: %w", scopeRef, schemas.ErrDetached)
	case res.Error != "":
		return nil, fmt.Errorf("invalid selector %q: %s", selector, res.Error)
	}
	return res.Refs, nil
}

// Describe reports tag, text, attributes and visibility of an element.
func (p *Page) Describe(ctx context.Context, h schemas.ElementHandle) (schemas.ElementInfo, error) {
	var res describeResult
	if err := p.eval(ctx, invoke(describeScript, h.Ref()), &res); err != nil {
		return schemas.ElementInfo{}, err
	}
	if res.Detached {
		return schemas.ElementInfo{}, fmt.Errorf("handle %q: %w", h.Ref(), schemas.ErrDetached)
	}
	return schemas.ElementInfo{
		Tag:        res.Tag,
		Text:       res.Text,
		Attributes: res.Attributes,
		Visible:    res.Visible,
	}, nil
}

// Act performs kind on the element. Clicks are real pointer events at the
// element's center; ActDispatchClick fires a synthetic DOM event instead.
func (p *Page) Act(ctx context.Context, h schemas.ElementHandle, kind schemas.ActKind, value string) error {
	var res actResult
	switch kind {
	case schemas.ActClick:
		if err := p.eval(ctx, invoke(clickTargetScript, h.Ref()), &res); err != nil {
			return err
		}
		if err := actError(h, kind, res); err != nil {
			return err
		}
		return p.run(ctx, p.actionTimeout(), chromedp.MouseClickXY(res.X, res.Y))
	case schemas.ActDispatchClick, schemas.ActFill, schemas.ActSelect:
		if err := p.eval(ctx, invoke(actScript, h.Ref(), string(kind), value), &res); err != nil {
			return err
		}
		return actError(h, kind, res)
	default:
		return fmt.Errorf("cdp action '%s': %w", kind, schemas.ErrUnsupported)
	}
}

func actError(h schemas.ElementHandle, kind schemas.ActKind, res actResult) error {
	switch res.Status {
	case "ok":
		return nil
	case "detached":
		return fmt.Errorf("handle %q: %w", h.Ref(), schemas.ErrDetached)
	case "not_interactable":
		return fmt.Errorf("element %s: %w", res.Reason, schemas.ErrNotInteractable)
	case "unsupported":
		return fmt.Errorf("cdp action '%s': %w", kind, schemas.ErrUnsupported)
	default:
		return fmt.Errorf("%s failed: %s", kind, res.Reason)
	}
}

// Scroll moves the viewport vertically by deltaY pixels.
func (p *Page) Scroll(ctx context.Context, deltaY int) error {
	return p.eval(ctx, fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil)
}

// PressKey sends a named key (Enter, Tab, Escape...) or a single character
// to the focused element.
func (p *Page) PressKey(ctx context.Context, key string) error {
	seq, ok := keyNames[strings.ToLower(key)]
	if !ok {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("cdp key '%s': %w", key, schemas.ErrUnsupported)
		}
		seq = key
	}
	return p.run(ctx, p.actionTimeout(), chromedp.KeyEvent(seq))
}

// WaitQuiescent waits until the document has loaded and no requests are in
// flight, or until timeout.
func (p *Page) WaitQuiescent(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(quiescencePoll)
	defer ticker.Stop()

	for {
		var state string
		err := p.eval(ctx, readyStateScript, &state)
		if err != nil && schemas.IsFatal(err) {
			return err
		}
		if err == nil && state == "complete" && p.pendingRequests() == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page not quiescent after %s: %w", timeout, context.DeadlineExceeded)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Screenshot captures the viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.actionTimeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}
