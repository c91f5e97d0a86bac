package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh agent instance.
type Factory func() (Agent, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a named agent factory. Panics on duplicates; registration
// happens at init time and a clash is a programming error.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("agent: duplicate registration %q", name))
	}
	registry[name] = f
}

// Build instantiates the named agent.
func Build(name string) (Agent, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent: unknown agent %q", name)
	}
	return f()
}

// Names returns every registered agent name, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register("trend", func() (Agent, error) { return NewTrend(), nil })
	Register("momentum", func() (Agent, error) { return NewMomentum(), nil })
	Register("volatility", func() (Agent, error) { return NewVolatility(), nil })
	Register("volume", func() (Agent, error) { return NewVolume(), nil })
}
