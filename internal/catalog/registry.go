// Package catalog holds the market configurations the engine can switch between.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/punchamoorthee/marketops/internal/domain"
)

var ErrMarketNotFound = errors.New("market not found")

//go:embed demo_markets.json
var demoMarkets []byte

// Summary is the id/name pair shown in the market selector.
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Registry is an immutable set of validated market configurations.
type Registry struct {
	markets map[string]domain.MarketConfig
}

// NewRegistry validates every config and indexes it by id.
func NewRegistry(configs ...domain.MarketConfig) (*Registry, error) {
	r := &Registry{markets: make(map[string]domain.MarketConfig, len(configs))}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.markets[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate market %q", domain.ErrInvalidCatalog, c.ID)
		}
		r.markets[c.ID] = c
	}
	return r, nil
}

// Demo returns the registry of bundled demo markets.
func Demo() (*Registry, error) {
	var configs []domain.MarketConfig
	if err := json.Unmarshal(demoMarkets, &configs); err != nil {
		return nil, fmt.Errorf("decode demo markets: %w", err)
	}
	return NewRegistry(configs...)
}

// Get returns the market with the given id.
func (r *Registry) Get(id string) (domain.MarketConfig, error) {
	c, ok := r.markets[id]
	if !ok {
		return domain.MarketConfig{}, fmt.Errorf("%w: %q", ErrMarketNotFound, id)
	}
	return c, nil
}

// List returns the available markets sorted by id.
func (r *Registry) List() []Summary {
	out := make([]Summary, 0, len(r.markets))
	for _, c := range r.markets {
		out = append(out, Summary{ID: c.ID, Name: c.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
