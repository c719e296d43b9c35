// Package cdp implements schemas.Page on top of a Chromium instance driven
// over the DevTools protocol with chromedp.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

const (
	launchTimeout       = 30 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// Browser owns the allocator that pages are started from. Every page gets
// its own browser process (or its own target when attached remotely), so
// sessions never share cookies or storage.
type Browser struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
	netCfg config.NetworkConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewBrowser prepares an allocator. Nothing is launched until NewPage.
func NewBrowser(ctx context.Context, cfg config.BrowserConfig, netCfg config.NetworkConfig, logger *zap.Logger) (*Browser, error) {
	b := &Browser{
		logger: logger.Named("cdp"),
		cfg:    cfg,
		netCfg: netCfg,
	}

	if cfg.RemoteURL != "" {
		b.allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
		b.logger.Info("Using remote browser.", zap.String("url", cfg.RemoteURL))
		return b, nil
	}

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	b.logger.Debug("Browser allocator prepared.", zap.Bool("headless", cfg.Headless))
	return b, nil
}

// allocatorFlags assembles the command line flags for a launched browser.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                  cfg.Headless,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-blink-features":    "AutomationControlled",
		"disable-extensions":        true,
		"disable-gpu":               cfg.Headless,
	}

	// Custom arguments from configuration, "--name=value" or "--name".
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	// Containers on Linux need these to start at all.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	// The default options enable automation; turn it back off.
	opts = append(opts, chromedp.Flag("enable-automation", false))

	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	return opts
}

// NewPage starts a browser for one session and applies persona.
func (b *Browser) NewPage(ctx context.Context, persona schemas.Persona) (*Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: browser closed", schemas.ErrTransport)
	}
	b.wg.Add(1)
	b.mu.Unlock()

	var ctxOpts []chromedp.ContextOption
	if b.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(b.logger.Sugar().Debugf))
	}
	tabCtx, cancel := chromedp.NewContext(b.allocCtx, ctxOpts...)

	launchCtx, cancelLaunch := context.WithTimeout(ctx, launchTimeout)
	defer cancelLaunch()

	fail := func(err error) (*Page, error) {
		cancel()
		b.wg.Done()
		return nil, fmt.Errorf("%w: browser failed to start: %v", schemas.ErrTransport, err)
	}

	// The first Run allocates the browser and binds its lifetime to the
	// context it is given, so it must be tabCtx itself.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			return fail(err)
		}
	case <-launchCtx.Done():
		return fail(launchCtx.Err())
	}

	runCtx, cancelRun := combineContext(tabCtx, launchCtx)
	defer cancelRun()
	if err := chromedp.Run(runCtx, applyPersona(persona, b.logger)); err != nil {
		return fail(err)
	}

	p := &Page{
		logger: b.logger.With(zap.String("persona", persona.Name)),
		ctx:    tabCtx,
		netCfg: b.netCfg,
	}
	p.cancel = func() {
		cancel()
		b.wg.Done()
	}
	if err := p.trackNetwork(launchCtx); err != nil {
		p.cancel()
		return nil, fmt.Errorf("%w: failed to enable network events: %v", schemas.ErrTransport, err)
	}
	b.logger.Debug("Page started.")
	return p, nil
}

// Close waits for open pages to be closed, then stops the allocator.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	var err error
	select {
	case <-done:
	case <-graceCtx.Done():
		err = fmt.Errorf("timed out waiting for pages to close: %w", graceCtx.Err())
		b.logger.Warn("Forcing browser shutdown with open pages.")
	}
	b.allocCancel()
	return err
}
