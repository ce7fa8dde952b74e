package search

import (
	"fmt"
	"sync"

	"github.com/mohammed-shakir/nearby-search/internal/core/config"
	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

// Registry holds one independent controller per configured search.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Controller
	order []string
}

func NewRegistry(deps Deps, searches []config.SearchCfg) (*Registry, error) {
	r := &Registry{items: make(map[string]*Controller, len(searches))}
	for _, s := range searches {
		if _, dup := r.items[s.ID]; dup {
			return nil, fmt.Errorf("search: duplicate search id %q", s.ID)
		}
		unit, err := model.ParseLinearUnit(s.Unit)
		if err != nil && deps.Logger != nil {
			deps.Logger.Warn("search unit not recognized; search stays unexecutable until configured",
				"search_id", s.ID, "unit", s.Unit)
		}
		c, err := NewController(s.ID, model.SearchConfig{
			TargetID: s.TargetID,
			Distance: s.Distance,
			Unit:     unit,
		}, deps)
		if err != nil {
			return nil, err
		}
		if verr := c.validate(c.cfg); verr != nil {
			c.log.Warn("search starts with an invalid config", "search_id", s.ID, "err", verr)
		}
		r.items[s.ID] = c
		r.order = append(r.order, s.ID)
	}
	return r, nil
}

func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	return c, ok
}

// Snapshots lists every search in configuration order.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id].Snapshot())
	}
	return out
}

// Close abandons all pending runs and waits for their goroutines.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.items {
		c.Close()
	}
	for _, c := range r.items {
		c.Wait()
	}
}
