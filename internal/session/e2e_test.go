package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/browser/static"
	"github.com/xkilldash9x/wayfarer/internal/locator"
	"github.com/xkilldash9x/wayfarer/internal/mocks"
	"github.com/xkilldash9x/wayfarer/internal/recipe"
	"github.com/xkilldash9x/wayfarer/internal/resolver"
	"go.uber.org/zap"
)

const (
	homeHTML = `<!DOCTYPE html><html><head><title>Bean Shop</title></head><body>
<header>
  <a href="/collections/brewers" aria-disabled="true">Brewers</a>
  <a href="/collections/pods">Pods</a>
  <form action="/search" method="get"><input type="search" name="q" placeholder="Search"></form>
  <a href="/cart" class="cart-icon">Cart</a>
</header>
<main><h1>Welcome</h1></main>
</body></html>`

	collectionHTML = `<!DOCTYPE html><html><head><title>Brewers</title></head><body>
<header><a href="/cart">Cart</a></header>
<main>
  <h1 class="collection-title">Brewers</h1>
  <div class="product-card"><a href="/products/k-classic">K-Classic</a><span class="price">$99</span></div>
  <div class="product-card"><a href="/products/k-mini">K-Mini</a><span class="price">$59</span></div>
</main>
</body></html>`

	productHTML = `<!DOCTYPE html><html><head><title>K-Classic</title></head><body>
<main class="product">
  <h1>K-Classic</h1>
  <span class="price">$99</span>
  <form action="/cart/add" method="post">
    <input type="hidden" name="id" value="k-classic">
    <button type="submit" name="add">Add to cart</button>
  </form>
</main>
</body></html>`

	cartHTML = `<!DOCTYPE html><html><head><title>Your cart</title></head><body>
<form action="/cart" method="post"><div class="cart-item">%s</div><button name="checkout">Check out</button></form>
</body></html>`

	searchHTML = `<!DOCTYPE html><html><head><title>Search</title></head><body>
<main class="search-results"><ul><li><a href="/products/k-classic">%s result</a></li></ul></main>
</body></html>`
)

func newShop(t *testing.T) *httptest.Server {
	t.Helper()
	var cart []string
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		write(w, homeHTML)
	})
	mux.HandleFunc("/collections/brewers", func(w http.ResponseWriter, r *http.Request) { write(w, collectionHTML) })
	mux.HandleFunc("/products/k-classic", func(w http.ResponseWriter, r *http.Request) { write(w, productHTML) })
	mux.HandleFunc("/cart/add", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		_ = r.ParseForm()
		cart = append(cart, r.PostForm.Get("id"))
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
	})
	mux.HandleFunc("/cart", func(w http.ResponseWriter, r *http.Request) {
		write(w, fmt.Sprintf(cartHTML, strings.Join(cart, ",")))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		write(w, fmt.Sprintf(searchHTML, r.URL.Query().Get("q")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newStaticPage(t *testing.T) *static.Page {
	t.Helper()
	page, err := static.New(zap.NewNop(), static.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = page.Close() })
	return page
}

func defaultCatalog(t *testing.T) *recipe.Catalog {
	t.Helper()
	c, err := recipe.DefaultCatalog()
	require.NoError(t, err)
	return c
}

// TestRun_EndToEndWithFallbacks drives a full purchase with a locator that
// never finds anything, so every target resolves through recipe observations.
// The brewers link refuses clicks, which exercises the retry and href
// fallbacks.
func TestRun_EndToEndWithFallbacks(t *testing.T) {
	srv := newShop(t)
	page := newStaticPage(t)

	blind := new(mocks.MockLocator)
	blind.On("FindByIdentifier", mock.Anything, mock.Anything).Return(nil, nil)
	blind.On("FindByPrompt", mock.Anything, mock.Anything).Return(nil, nil)

	opts := testOptions(10)
	opts.DonePattern = "^/cart$"
	opts.ScreenshotOnDone = true

	m, err := New("e2e", Deps{
		Page:    page,
		Locator: blind,
		Catalog: defaultCatalog(t),
		Logger:  zap.NewNop(),
	}, opts)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), srv.URL+"/"))

	src := instructions("click brewers", "click first product link", "click add to cart", "scroll down")
	report, err := m.Run(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, report.History, 3, "the goal is reached before the fourth instruction")
	assert.Equal(t, schemas.ReasonDone, report.Reason)
	assert.Equal(t, srv.URL+"/cart", report.FinalURL)
	assert.Equal(t, "Your cart", report.FinalTitle)
	assert.Nil(t, report.Screenshot, "static pages cannot capture screenshots")
	assert.Equal(t, 3, report.Succeeded())

	brewers := report.History[0]
	assert.True(t, brewers.Success)
	assert.Equal(t, string(resolver.StrategyRecipe), brewers.Strategy)
	assert.Equal(t, string(resolver.FallbackHref), brewers.Fallback)
	assert.Equal(t, srv.URL+"/collections/brewers", brewers.ResultingURL)

	entry, ok := m.State().Cache.Get(srv.URL+"/", "click brewers")
	require.True(t, ok, "the winning strategy is cached under the pre-action URL")
	assert.Equal(t, resolver.StrategyRecipe, entry.Strategy)

	product := report.History[1]
	assert.True(t, product.Success)
	assert.Equal(t, srv.URL+"/products/k-classic", product.ResultingURL)

	add := report.History[2]
	assert.True(t, add.Success)
	assert.Equal(t, string(resolver.FallbackNone), add.Fallback)
	assert.Equal(t, srv.URL+"/cart", add.ResultingURL)
}

func TestRun_SearchWithLexicalLocator(t *testing.T) {
	srv := newShop(t)
	page := newStaticPage(t)

	m, err := New("search", Deps{
		Page:    page,
		Locator: locator.NewLexical(page, zap.NewNop(), 0.5),
		Catalog: defaultCatalog(t),
		Logger:  zap.NewNop(),
	}, testOptions(10))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), srv.URL))

	report, err := m.Run(context.Background(), instructions("fill search with coffee", "press enter"))
	require.NoError(t, err)

	require.Len(t, report.History, 2)
	for _, step := range report.History {
		assert.True(t, step.Success, "step %d failed: %s", step.Step, step.Error)
	}
	assert.Equal(t, string(resolver.StrategyIdentifier), report.History[0].Strategy)
	assert.Equal(t, string(schemas.IntentSubmit), string(report.History[1].Intent))
	assert.Equal(t, srv.URL+"/search?q=coffee", report.FinalURL)
	assert.Equal(t, schemas.ReasonExhausted, report.Reason)
}

func TestStep_ExtractRecordsObservation(t *testing.T) {
	srv := newShop(t)
	page := newStaticPage(t)

	m, err := New("extract", Deps{
		Page:    page,
		Locator: locator.NewLexical(page, zap.NewNop(), 0.5),
		Catalog: defaultCatalog(t),
	}, testOptions(5))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), srv.URL+"/collections/brewers"))

	res, err := m.Step(context.Background(), schemas.Instruction{Action: "extract"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Observation, "collection_title")
	assert.Contains(t, res.Observation, "first_product_link")
	assert.IsIncreasing(t, res.Observation)
}

func TestRun_ClosedPageIsTransportFailure(t *testing.T) {
	srv := newShop(t)
	page := newStaticPage(t)

	m, err := New("closed", Deps{
		Page:    page,
		Locator: locator.NewLexical(page, zap.NewNop(), 0.5),
		Catalog: defaultCatalog(t),
	}, testOptions(5))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), srv.URL))
	require.NoError(t, page.Close())

	report, err := m.Run(context.Background(), instructions("click pods"))
	require.Error(t, err)
	assert.True(t, schemas.IsFatal(err))
	assert.Equal(t, schemas.ReasonTransport, report.Reason)
	require.Len(t, report.History, 1)
	assert.Equal(t, string(schemas.ErrCodeExtractionTransport), report.History[0].ErrorCode)
}
