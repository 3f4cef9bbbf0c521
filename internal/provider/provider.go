package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ahmethakanbesel/stock-etl/internal/stock"
)

// Provider fetches the latest known fields for one symbol.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (stock.Fields, error)
}

// Result is the outcome of one provider call for one symbol.
type Result struct {
	Provider string
	Fields   stock.Fields
	Err      error
}

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// Select returns the named providers in the given order.
func (r *Registry) Select(names []string) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, n := range names {
		p, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge combines results given in precedence order. For every field the first
// non-nil, non-zero value wins; a zero is kept only when no provider has
// anything better. Failed results are ignored.
func Merge(results []Result) stock.Fields {
	merged := stock.Fields{}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for f, v := range r.Fields {
			if v == nil {
				continue
			}
			cur, ok := merged[f]
			if !ok || (*cur == 0 && *v != 0) {
				merged.Set(f, *v)
			}
		}
	}
	return merged
}
