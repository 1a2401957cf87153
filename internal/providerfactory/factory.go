// Package providerfactory instantiates and caches providers per
// configuration mode. A cached provider is returned only while its cheap
// health probe passes; an unhealthy entry is evicted and rebuilt on the
// next lookup.
package providerfactory

import (
	"context"
	"sync"
	"time"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/logging"
	"github.com/opencc/proxy/internal/provider"
)

// Builder constructs a provider for one configuration mode.
type Builder func() (provider.Provider, error)

// healthInterval spaces out cache-hit health probes so a busy mode does
// not turn every request into an extra upstream round trip.
const healthInterval = 30 * time.Second

type entry struct {
	p           provider.Provider
	lastChecked time.Time
}

// Factory holds the mode -> provider cache.
type Factory struct {
	mu       sync.Mutex
	builders map[string]Builder
	cache    map[string]*entry
	now      func() time.Time
}

// New creates an empty Factory.
func New() *Factory {
	return &Factory{
		builders: make(map[string]Builder),
		cache:    make(map[string]*entry),
		now:      time.Now,
	}
}

// Register installs the builder for a configuration mode.
func (f *Factory) Register(mode string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[mode] = b
}

// Modes lists the registered configuration modes.
func (f *Factory) Modes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	modes := make([]string, 0, len(f.builders))
	for m := range f.builders {
		modes = append(modes, m)
	}
	return modes
}

// Get returns the provider for mode, constructing and initializing one if
// the cache is empty or the cached instance probes unhealthy.
func (f *Factory) Get(ctx context.Context, mode string) (provider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.cache[mode]; ok {
		if f.now().Sub(e.lastChecked) < healthInterval {
			return e.p, nil
		}
		if status, _ := e.p.TestConnection(ctx); status.Healthy {
			e.lastChecked = f.now()
			return e.p, nil
		}
		logging.Warnf("providerfactory: evicting unhealthy provider for mode %q", mode)
		f.evictLocked(mode)
	}

	build, ok := f.builders[mode]
	if !ok {
		return nil, apierrors.New(apierrors.KindProviderInit, "unknown configuration mode: "+mode)
	}

	p, err := build()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindProviderInit, "failed to construct provider for mode "+mode, err)
	}
	if err := p.Initialize(ctx); err != nil {
		_ = p.Dispose()
		return nil, err
	}

	f.cache[mode] = &entry{p: p, lastChecked: f.now()}
	return p, nil
}

// Invalidate evicts the cached provider for mode, disposing it. Exposed
// for tests and for operational resets.
func (f *Factory) Invalidate(mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictLocked(mode)
}

func (f *Factory) evictLocked(mode string) {
	if e, ok := f.cache[mode]; ok {
		_ = e.p.Dispose()
		delete(f.cache, mode)
	}
}

// Dispose evicts every cached provider. Idempotent.
func (f *Factory) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for mode := range f.cache {
		f.evictLocked(mode)
	}
}
