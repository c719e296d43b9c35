// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Session() config.SessionConfig {
	args := m.Called()
	return args.Get(0).(config.SessionConfig)
}

func (m *MockConfig) Resolver() config.ResolverConfig {
	args := m.Called()
	return args.Get(0).(config.ResolverConfig)
}

func (m *MockConfig) Recipes() config.RecipesConfig {
	args := m.Called()
	return args.Get(0).(config.RecipesConfig)
}

func (m *MockConfig) Locator() config.LocatorConfig {
	args := m.Called()
	return args.Get(0).(config.LocatorConfig)
}

func (m *MockConfig) Planner() config.PlannerConfig {
	args := m.Called()
	return args.Get(0).(config.PlannerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

func (m *MockConfig) Output() config.OutputConfig {
	args := m.Called()
	return args.Get(0).(config.OutputConfig)
}

// --- Setters ---

func (m *MockConfig) SetSessionMaxSteps(n int) {
	m.Called(n)
}

func (m *MockConfig) SetSessionDonePattern(p string) {
	m.Called(p)
}

func (m *MockConfig) SetSessionConcurrency(n int) {
	m.Called(n)
}

func (m *MockConfig) SetBrowserDriver(d string) {
	m.Called(d)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetOutputDir(dir string) {
	m.Called(dir)
}

// -- Browser Mocks --

// Handle is a fixed element handle for mocks.
type Handle string

// Ref implements schemas.ElementHandle.
func (h Handle) Ref() string { return string(h) }

// MockPage mocks the schemas.Page interface.
type MockPage struct {
	mock.Mock
}

var _ schemas.Page = (*MockPage)(nil)

func (m *MockPage) Navigate(ctx context.Context, url string) (schemas.NavigationResult, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(schemas.NavigationResult), args.Error(1)
}

func (m *MockPage) Location(ctx context.Context) (schemas.NavigationResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.NavigationResult), args.Error(1)
}

func (m *MockPage) Query(ctx context.Context, scope schemas.ElementHandle, selector string) (schemas.ElementHandle, error) {
	args := m.Called(ctx, scope, selector)
	var h schemas.ElementHandle
	if v := args.Get(0); v != nil {
		h = v.(schemas.ElementHandle)
	}
	return h, args.Error(1)
}

func (m *MockPage) QueryAll(ctx context.Context, scope schemas.ElementHandle, selector string) ([]schemas.ElementHandle, error) {
	args := m.Called(ctx, scope, selector)
	var hs []schemas.ElementHandle
	if v := args.Get(0); v != nil {
		hs = v.([]schemas.ElementHandle)
	}
	return hs, args.Error(1)
}

func (m *MockPage) Describe(ctx context.Context, h schemas.ElementHandle) (schemas.ElementInfo, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(schemas.ElementInfo), args.Error(1)
}

func (m *MockPage) Act(ctx context.Context, h schemas.ElementHandle, kind schemas.ActKind, value string) error {
	args := m.Called(ctx, h, kind, value)
	return args.Error(0)
}

func (m *MockPage) Scroll(ctx context.Context, deltaY int) error {
	args := m.Called(ctx, deltaY)
	return args.Error(0)
}

func (m *MockPage) PressKey(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockPage) WaitQuiescent(ctx context.Context, timeout time.Duration) error {
	args := m.Called(ctx, timeout)
	return args.Error(0)
}

func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

// MockLocator mocks the schemas.Locator interface.
type MockLocator struct {
	mock.Mock
}

var _ schemas.Locator = (*MockLocator)(nil)

func (m *MockLocator) FindByIdentifier(ctx context.Context, identifier string) (schemas.ElementHandle, error) {
	args := m.Called(ctx, identifier)
	var h schemas.ElementHandle
	if v := args.Get(0); v != nil {
		h = v.(schemas.ElementHandle)
	}
	return h, args.Error(1)
}

func (m *MockLocator) FindByPrompt(ctx context.Context, prompt string) (schemas.ElementHandle, error) {
	args := m.Called(ctx, prompt)
	var h schemas.ElementHandle
	if v := args.Get(0); v != nil {
		h = v.(schemas.ElementHandle)
	}
	return h, args.Error(1)
}

// -- Planner Mock --

// MockPlanner mocks the schemas.Planner interface.
type MockPlanner struct {
	mock.Mock
}

var _ schemas.Planner = (*MockPlanner)(nil)

func (m *MockPlanner) Plan(ctx context.Context, req schemas.PlanRequest) ([]schemas.Instruction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	var out []schemas.Instruction
	if v := args.Get(0); v != nil {
		out = v.([]schemas.Instruction)
	}
	return out, args.Error(1)
}

// -- Store Mock --

// MockHistoryStore mocks the schemas.HistoryStore interface.
type MockHistoryStore struct {
	mock.Mock
}

var _ schemas.HistoryStore = (*MockHistoryStore)(nil)

func (m *MockHistoryStore) SaveSession(ctx context.Context, report *schemas.SessionReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}
