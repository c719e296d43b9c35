package cdp

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

func TestAllocatorFlags(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless:        true,
		IgnoreTLSErrors: true,
		Args:            []string{"--lang=de-DE", "--mute-audio", "--"},
	}
	flags := allocatorFlags(cfg)

	assert.Equal(t, true, flags["headless"])
	assert.Equal(t, true, flags["ignore-certificate-errors"])
	assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	assert.Equal(t, true, flags["disable-gpu"], "gpu is disabled when headless")
	assert.Equal(t, "de-DE", flags["lang"])
	assert.Equal(t, true, flags["mute-audio"])
	assert.NotContains(t, flags, "", "empty argument names are dropped")

	if runtime.GOOS == "linux" {
		assert.Equal(t, true, flags["no-sandbox"])
		assert.Equal(t, true, flags["disable-dev-shm-usage"])
	}
}

func TestAllocatorFlags_Headful(t *testing.T) {
	flags := allocatorFlags(config.BrowserConfig{Headless: false})
	assert.Equal(t, false, flags["headless"])
	assert.Equal(t, false, flags["disable-gpu"])
}

func TestBuildAllocatorOptions_AppendsToDefaults(t *testing.T) {
	base := len(buildAllocatorOptions(config.BrowserConfig{}))
	withExtras := len(buildAllocatorOptions(config.BrowserConfig{
		UserAgent: "wayfarer-test",
		Viewport:  map[string]int{"width": 800, "height": 600},
	}))
	assert.Equal(t, base+2, withExtras, "user agent and window size add one option each")
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "", acceptLanguage(nil))
	assert.Equal(t, "en-US", acceptLanguage([]string{"en-US"}))
	assert.Equal(t, "en-US,en;q=0.9,de;q=0.8,fr;q=0.7,es;q=0.7",
		acceptLanguage([]string{"en-US", "en", "de", "fr", "es"}))
}

func TestInvoke_EncodesArguments(t *testing.T) {
	script := invoke(queryScript, "", `a[href="/cart"]`, true)

	assert.True(t, strings.HasPrefix(script, helperScript))
	assert.Contains(t, script, `("", "a[href=\"/cart\"]", true)`)
}

func TestActError(t *testing.T) {
	h := handle("tok:1")
	tests := []struct {
		name   string
		res    actResult
		target error
	}{
		{"detached", actResult{Status: "detached"}, schemas.ErrDetached},
		{"hidden", actResult{Status: "not_interactable", Reason: "hidden"}, schemas.ErrNotInteractable},
		{"unsupported", actResult{Status: "unsupported"}, schemas.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, actError(h, schemas.ActClick, tt.res), tt.target)
		})
	}

	assert.NoError(t, actError(h, schemas.ActFill, actResult{Status: "ok"}))

	err := actError(h, schemas.ActSelect, actResult{Status: "error", Reason: "no option XL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no option XL")
	assert.False(t, schemas.IsTransient(err))
}

type ctxKey struct{}

func TestCombineContext(t *testing.T) {
	t.Run("secondary cancels", func(t *testing.T) {
		primary := context.WithValue(context.Background(), ctxKey{}, "target")
		secondary, cancel := context.WithCancel(context.Background())
		combined, stop := combineContext(primary, secondary)
		defer stop()

		assert.Equal(t, "target", combined.Value(ctxKey{}), "values come from the primary context")
		cancel()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not canceled")
		}
	})

	t.Run("primary cancels", func(t *testing.T) {
		primary, cancel := context.WithCancel(context.Background())
		combined, stop := combineContext(primary, context.Background())
		defer stop()
		cancel()
		<-combined.Done()
		assert.True(t, errors.Is(combined.Err(), context.Canceled))
	})
}

func TestPage_ClosedIsTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Page{ctx: ctx, cancel: func() {}}

	_, err := p.Location(context.Background())
	assert.ErrorIs(t, err, schemas.ErrTransport)
	assert.ErrorIs(t, p.Scroll(context.Background(), 100), schemas.ErrTransport)
}

func TestPage_PressKeyUnsupported(t *testing.T) {
	p := &Page{ctx: context.Background(), cancel: func() {}}
	err := p.PressKey(context.Background(), "Hyper")
	assert.ErrorIs(t, err, schemas.ErrUnsupported)
}

func TestBrowser_NewPageAfterClose(t *testing.T) {
	b, err := NewBrowser(context.Background(), config.BrowserConfig{Headless: true}, config.NetworkConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, b.Close(context.Background()))

	_, err = b.NewPage(context.Background(), schemas.Persona{})
	assert.ErrorIs(t, err, schemas.ErrTransport)
	assert.NoError(t, b.Close(context.Background()), "closing twice is a no-op")
}
