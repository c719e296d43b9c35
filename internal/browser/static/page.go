// Package static implements schemas.Page over plain HTTP. Pages are fetched
// with net/http, parsed into an in-memory DOM and queried with CSS selectors.
// There is no script engine: clicks follow links, submit forms and toggle
// inputs, which is enough for server rendered sites and for tests.
package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
)

// Page is a single HTTP backed browsing context.
type Page struct {
	logger  *zap.Logger
	client  *http.Client
	persona schemas.Persona
	netCfg  config.NetworkConfig

	mu         sync.RWMutex
	currentURL *url.URL
	doc        *html.Node
	title      string
	// generation changes whenever the document is replaced; handles from an
	// older generation are detached.
	generation uint64
	nextRef    uint64
	nodes      map[string]*html.Node
	focused    *html.Node
	closed     bool
}

var _ schemas.Page = (*Page)(nil)

// Options configure a static Page.
type Options struct {
	Persona   schemas.Persona
	Network   config.NetworkConfig
	Transport http.RoundTripper
}

// New creates a static page with its own cookie jar.
func New(logger *zap.Logger, opts Options) (*Page, error) {
	logger = logger.Named("static_page")
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	timeout := opts.Network.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Network.MaxRedirects <= 0 {
		opts.Network.MaxRedirects = 10
	}
	if opts.Transport == nil {
		opts.Transport = newHTTPTransport(logger)
	}

	return &Page{
		logger:  logger,
		persona: opts.Persona,
		netCfg:  opts.Network,
		client: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: newCompressionTransport(opts.Transport),
			// Redirects are followed manually so the Referer and method
			// rewriting match what a browser does.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		nodes: make(map[string]*html.Node),
	}, nil
}

// Close releases the page. Every later call fails with schemas.ErrTransport.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.doc = nil
	p.nodes = nil
	p.client.CloseIdleConnections()
	return nil
}

// LoadHTML replaces the current document without a network round trip.
func (p *Page) LoadHTML(rawURL, body string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL '%s': %w", rawURL, err)
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}
	p.replaceDocument(u, doc)
	return nil
}

// Navigate loads targetURL, resolved against the current URL.
func (p *Page) Navigate(ctx context.Context, targetURL string) (schemas.NavigationResult, error) {
	if err := p.checkOpen(); err != nil {
		return schemas.NavigationResult{}, err
	}
	resolved, err := p.resolveURL(targetURL)
	if err != nil {
		return schemas.NavigationResult{}, fmt.Errorf("failed to resolve URL '%s': %w", targetURL, err)
	}

	if p.netCfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.netCfg.NavigationTimeout)
		defer cancel()
	}

	p.logger.Debug("Navigating", zap.String("url", resolved.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return schemas.NavigationResult{}, fmt.Errorf("failed to create request for '%s': %w", resolved, err)
	}
	if err := p.execute(ctx, req); err != nil {
		return schemas.NavigationResult{}, err
	}
	return p.Location(ctx)
}

// Location returns the current URL and title.
func (p *Page) Location(context.Context) (schemas.NavigationResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return schemas.NavigationResult{}, fmt.Errorf("%w: page closed", schemas.ErrTransport)
	}
	res := schemas.NavigationResult{Title: p.title}
	if p.currentURL != nil {
		res.URL = p.currentURL.String()
	}
	return res, nil
}

// Scroll has no effect without a layout engine.
func (p *Page) Scroll(context.Context, int) error {
	return p.checkOpen()
}

// WaitQuiescent returns immediately: every action completes synchronously.
func (p *Page) WaitQuiescent(context.Context, time.Duration) error {
	return p.checkOpen()
}

// Screenshot is not available without rendering.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	return nil, fmt.Errorf("static page screenshot: %w", schemas.ErrUnsupported)
}

// PressKey supports Enter, which submits the form owning the last filled field.
func (p *Page) PressKey(ctx context.Context, key string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if !strings.EqualFold(key, "enter") {
		return fmt.Errorf("static page key '%s': %w", key, schemas.ErrUnsupported)
	}
	p.mu.RLock()
	focused := p.focused
	p.mu.RUnlock()
	if focused == nil {
		p.logger.Debug("Enter pressed with no focused field; nothing to submit")
		return nil
	}
	form := findParentForm(focused)
	if form == nil {
		return nil
	}
	return p.submitForm(ctx, form)
}

func (p *Page) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("%w: page closed", schemas.ErrTransport)
	}
	return nil
}

// execute sends req, following up to MaxRedirects redirects, and installs the
// final response as the current document.
func (p *Page) execute(ctx context.Context, req *http.Request) error {
	current := req
	for i := 0; i <= p.netCfg.MaxRedirects; i++ {
		p.prepareHeaders(current)
		resp, err := p.client.Do(current)
		if err != nil {
			return fmt.Errorf("request to '%s' failed: %w", current.URL, err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "" {
			next, err := p.redirectRequest(ctx, resp, current)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to handle redirect: %w", err)
			}
			current = next
			continue
		}
		return p.processResponse(resp)
	}
	return fmt.Errorf("maximum number of redirects (%d) exceeded", p.netCfg.MaxRedirects)
}

func (p *Page) redirectRequest(ctx context.Context, resp *http.Response, prev *http.Request) (*http.Request, error) {
	next, err := prev.URL.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect location: %w", err)
	}

	method := prev.Method
	var body io.ReadCloser
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	default:
		if prev.GetBody != nil {
			if body, err = prev.GetBody(); err != nil {
				return nil, fmt.Errorf("failed to replay body for redirect: %w", err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, next.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", prev.URL.String())
	return req, nil
}

func (p *Page) processResponse(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.logger.Warn("Request resulted in error status code",
			zap.Int("status", resp.StatusCode),
			zap.String("url", resp.Request.URL.String()))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "html") {
		p.logger.Debug("Response is not HTML, document left empty", zap.String("content_type", contentType))
		p.replaceDocument(resp.Request.URL, nil)
		return nil
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		p.replaceDocument(resp.Request.URL, nil)
		return fmt.Errorf("failed to parse HTML from '%s': %w", resp.Request.URL, err)
	}
	p.replaceDocument(resp.Request.URL, doc)
	return nil
}

// replaceDocument installs a new document and invalidates every handle.
func (p *Page) replaceDocument(u *url.URL, doc *html.Node) {
	title := ""
	if doc != nil {
		title = strings.TrimSpace(goquery.NewDocumentFromNode(doc).Find("title").First().Text())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentURL = u
	p.doc = doc
	p.title = title
	p.generation++
	p.nodes = make(map[string]*html.Node)
	p.focused = nil

	p.logger.Debug("Document replaced", zap.String("url", u.String()), zap.String("title", title))
}

func (p *Page) resolveURL(target string) (*url.URL, error) {
	p.mu.RLock()
	current := p.currentURL
	p.mu.RUnlock()

	parsed, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	if current == nil {
		return nil, fmt.Errorf("cannot resolve relative URL '%s' without a current page", target)
	}
	return current.ResolveReference(parsed), nil
}

func (p *Page) prepareHeaders(req *http.Request) {
	if p.persona.UserAgent != "" {
		req.Header.Set("User-Agent", p.persona.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if len(p.persona.Languages) > 0 {
		req.Header.Set("Accept-Language", strings.Join(p.persona.Languages, ","))
	}
	if req.Header.Get("Referer") == "" {
		p.mu.RLock()
		if p.currentURL != nil {
			req.Header.Set("Referer", p.currentURL.String())
		}
		p.mu.RUnlock()
	}
}
