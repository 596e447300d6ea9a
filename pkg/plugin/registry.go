package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/resmeter/internal/core"
)

// CapturerFactory creates a new capturer instance.
type CapturerFactory func() Capturer

// ReporterFactory creates a new reporter instance.
type ReporterFactory func() Reporter

// factoryRegistry maps plugin names to factories of one plugin type.
type factoryRegistry[F any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]F
}

func newFactoryRegistry[F any](kind string) *factoryRegistry[F] {
	return &factoryRegistry[F]{kind: kind, factories: make(map[string]F)}
}

// register panics on an empty name, a nil factory or a duplicate name:
// registration happens from init and such errors are programming bugs.
func (r *factoryRegistry[F]) register(name string, factory F, isNil bool) {
	if name == "" {
		panic(fmt.Sprintf("plugin: empty %s name", r.kind))
	}
	if isNil {
		panic(fmt.Sprintf("plugin: nil factory for %s %q", r.kind, name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("plugin: %s %q registered twice", r.kind, name))
	}
	r.factories[name] = factory
}

func (r *factoryRegistry[F]) get(name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%s %q: %w", r.kind, name, core.ErrPluginNotFound)
	}
	return f, nil
}

func (r *factoryRegistry[F]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset removes every factory. Intended for tests.
func (r *factoryRegistry[F]) Reset() {
	r.mu.Lock()
	r.factories = make(map[string]F)
	r.mu.Unlock()
}

var (
	capturerReg = newFactoryRegistry[CapturerFactory]("capturer")
	reporterReg = newFactoryRegistry[ReporterFactory]("reporter")
)

func RegisterCapturer(name string, factory CapturerFactory) {
	capturerReg.register(name, factory, factory == nil)
}

func GetCapturerFactory(name string) (CapturerFactory, error) {
	return capturerReg.get(name)
}

// ListCapturers returns registered capturer names in sorted order.
func ListCapturers() []string {
	return capturerReg.list()
}

func RegisterReporter(name string, factory ReporterFactory) {
	reporterReg.register(name, factory, factory == nil)
}

func GetReporterFactory(name string) (ReporterFactory, error) {
	return reporterReg.get(name)
}

// ListReporters returns registered reporter names in sorted order.
func ListReporters() []string {
	return reporterReg.list()
}

// NewCapturer creates and initializes the named capturer.
func NewCapturer(name string, cfg map[string]any) (Capturer, error) {
	factory, err := GetCapturerFactory(name)
	if err != nil {
		return nil, err
	}
	c := factory()
	if err := c.Init(cfg); err != nil {
		return nil, fmt.Errorf("capturer %q: %w: %v", name, core.ErrPluginInitFailed, err)
	}
	return c, nil
}

// NewReporter creates and initializes the named reporter.
func NewReporter(name string, cfg map[string]any) (Reporter, error) {
	factory, err := GetReporterFactory(name)
	if err != nil {
		return nil, err
	}
	r := factory()
	if err := r.Init(cfg); err != nil {
		return nil, fmt.Errorf("reporter %q: %w: %v", name, core.ErrPluginInitFailed, err)
	}
	return r, nil
}
