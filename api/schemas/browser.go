package schemas

import (
	"context"
	"errors"
	"time"
)

// Transport-level sentinel errors. Drivers wrap these so the core can classify
// failures with errors.Is without knowing which driver is in use.
var (
	// ErrTransport means the page or driver is gone. It is never retried.
	ErrTransport = errors.New("browser transport failure")
	// ErrDetached means a handle no longer refers to a node in the live DOM.
	ErrDetached = errors.New("element handle detached")
	// ErrNotInteractable means the element exists but cannot be acted on yet.
	ErrNotInteractable = errors.New("element not interactable")
	// ErrUnsupported means the driver cannot perform the requested primitive.
	ErrUnsupported = errors.New("operation not supported by driver")
)

// IsTransient reports whether an interaction error is worth a requery and retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDetached) || errors.Is(err, ErrNotInteractable)
}

// ActKind enumerates the element level actions a Page can perform.
type ActKind string

const (
	ActClick         ActKind = "click"
	ActFill          ActKind = "fill"
	ActSelect        ActKind = "select"
	ActDispatchClick ActKind = "dispatch_click"
)

// ElementHandle is an opaque reference to a DOM node owned by a Page. Handles
// are only valid until the next navigation or DOM replacement.
type ElementHandle interface {
	// Ref is a driver specific identifier, stable for the lifetime of the handle.
	Ref() string
}

// ElementInfo is a read-only description of an element.
type ElementInfo struct {
	Tag        string
	Text       string
	Attributes map[string]string
	Visible    bool
}

// Label returns the best human readable label for the element.
func (e ElementInfo) Label() string {
	if e.Text != "" {
		return e.Text
	}
	for _, key := range []string{"aria-label", "title", "placeholder", "alt", "name", "value"} {
		if v := e.Attributes[key]; v != "" {
			return v
		}
	}
	return ""
}

// NavigationResult is what a page reports after a navigation.
type NavigationResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Persona carries the browser identity presented to sites.
type Persona struct {
	Name      string   `json:"name" mapstructure:"name" yaml:"name"`
	UserAgent string   `json:"user_agent" mapstructure:"user_agent" yaml:"user_agent"`
	Languages []string `json:"languages" mapstructure:"languages" yaml:"languages"`
	Width     int64    `json:"width" mapstructure:"width" yaml:"width"`
	Height    int64    `json:"height" mapstructure:"height" yaml:"height"`
}

// Page is the browser transport consumed by the core. Implementations must
// bound every call by the context they are given.
type Page interface {
	Navigate(ctx context.Context, url string) (NavigationResult, error)
	Location(ctx context.Context) (NavigationResult, error)
	// Query returns the first element matching selector within scope (nil scope
	// means the whole document). A nil handle with a nil error means no match.
	Query(ctx context.Context, scope ElementHandle, selector string) (ElementHandle, error)
	QueryAll(ctx context.Context, scope ElementHandle, selector string) ([]ElementHandle, error)
	Describe(ctx context.Context, h ElementHandle) (ElementInfo, error)
	Act(ctx context.Context, h ElementHandle, kind ActKind, value string) error
	Scroll(ctx context.Context, deltaY int) error
	PressKey(ctx context.Context, key string) error
	WaitQuiescent(ctx context.Context, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Locator is the semantic element locator consumed by the resolver. Both
// methods return a nil handle and nil error when nothing matches.
type Locator interface {
	FindByIdentifier(ctx context.Context, identifier string) (ElementHandle, error)
	FindByPrompt(ctx context.Context, prompt string) (ElementHandle, error)
}
