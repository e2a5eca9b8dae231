// Package payers dispatches per-payer structural pre-normalization of
// in-network records. Handlers operate on one decoded in-network item at a
// time and are pure with respect to their input: adaptations are applied to
// a deep copy.
package payers

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/gyeh/tic-rates/internal/fetch"
	"github.com/gyeh/tic-rates/internal/toc"
)

// Handler adapts one payer's MRF conventions to the uniform structure the
// streaming parser expects.
type Handler interface {
	// ListFiles enumerates the payer's MRF descriptors from its index URL.
	ListFiles(ctx context.Context, client *fetch.Client, indexURL string) ([]toc.Descriptor, error)

	// AdaptInNetwork transforms one raw in-network item into zero or more
	// uniform items. The input is never mutated.
	AdaptInNetwork(item map[string]any) []map[string]any
}

// Base is the default handler: standard ToC resolution and an identity
// transform.
type Base struct{}

func (Base) ListFiles(ctx context.Context, client *fetch.Client, indexURL string) ([]toc.Descriptor, error) {
	return toc.FetchAndResolve(ctx, client, indexURL)
}

func (Base) AdaptInNetwork(item map[string]any) []map[string]any {
	return []map[string]any{item}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Handler{}
)

// Register binds a handler factory to a payer name (case-insensitive).
func Register(name string, factory func() Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// Get returns the handler registered for the payer name, or the default
// handler when none is registered.
func Get(name string) Handler {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return Base{}
	}
	return factory()
}

// clone deep-copies a decoded JSON value so handlers can rewrite structure
// without touching the caller's item.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	default:
		return v
	}
}

func cloneItem(item map[string]any) map[string]any {
	return clone(item).(map[string]any)
}

// ensureList wraps a scalar value under key into a single-element list.
func ensureList(m map[string]any, key string) {
	v, ok := m[key]
	if !ok {
		return
	}
	if _, isList := v.([]any); !isList {
		m[key] = []any{v}
	}
}

// lowerString lowercases a string value under key, leaving other types alone.
func lowerString(m map[string]any, key string) {
	if s, ok := m[key].(string); ok {
		m[key] = strings.ToLower(s)
	}
}

// coerceTIN rewrites a bare string TIN into the standard {type, value} object.
func coerceTIN(m map[string]any) {
	if s, ok := m["tin"].(string); ok {
		m["tin"] = map[string]any{"type": "ein", "value": s}
	}
}

// coerceNPI converts a string NPI to an integer when parseable.
func coerceNPI(m map[string]any) {
	if s, ok := m["npi"].(string); ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			m["npi"] = float64(n)
		}
	}
}

// coerceRate converts a string negotiated_rate to a float when parseable.
func coerceRate(m map[string]any) {
	if s, ok := m["negotiated_rate"].(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			m["negotiated_rate"] = f
		}
	}
}

func rateGroups(item map[string]any) []map[string]any {
	groups, _ := item["negotiated_rates"].([]any)
	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		if m, ok := g.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func priceEntries(group map[string]any) []map[string]any {
	prices, _ := group["negotiated_prices"].([]any)
	out := make([]map[string]any, 0, len(prices))
	for _, p := range prices {
		if m, ok := p.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func providerGroups(group map[string]any) []map[string]any {
	pgs, _ := group["provider_groups"].([]any)
	out := make([]map[string]any, 0, len(pgs))
	for _, pg := range pgs {
		if m, ok := pg.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
