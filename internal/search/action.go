package search

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	"github.com/mohammed-shakir/nearby-search/internal/rendered"
	"github.com/mohammed-shakir/nearby-search/internal/selection"
)

const (
	ActionSearchNearby = "search_nearby"
	ActionHighlight    = "highlight"
)

// Action is a feature action a client can invoke on a rendered feature.
type Action interface {
	Name() string
	CanExecute(refCollection string, ref model.ReferenceFeature) bool
	Execute(ctx context.Context, refCollection string, ref model.ReferenceFeature) (uint64, error)
	Configure(ctx context.Context, ed Editor) (model.SearchConfig, bool)
}

type Factory func(id string, cfg model.SearchConfig, deps Deps) (Action, error)

var variants = map[string]Factory{
	ActionSearchNearby: func(id string, cfg model.SearchConfig, deps Deps) (Action, error) {
		c, err := NewController(id, cfg, deps)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
	ActionHighlight: func(_ string, _ model.SearchConfig, deps Deps) (Action, error) {
		h, err := NewHighlight(deps)
		if err != nil {
			return nil, err
		}
		return h, nil
	},
}

func NewAction(name, id string, cfg model.SearchConfig, deps Deps) (Action, error) {
	f, ok := variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return f(id, cfg, deps)
}

func ActionNames() []string {
	out := make([]string, 0, len(variants))
	for n := range variants {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Highlight makes the reference feature the only selected feature of its
// own layer. It calls no service and has nothing to configure.
type Highlight struct {
	deps Deps
	seq  atomic.Uint64
}

var _ Action = (*Highlight)(nil)

func NewHighlight(deps Deps) (*Highlight, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Highlight{deps: deps}, nil
}

func (h *Highlight) Name() string { return ActionHighlight }

func (h *Highlight) CanExecute(refCollection string, ref model.ReferenceFeature) bool {
	_, _, err := h.resolve(refCollection, ref)
	return err == nil
}

func (h *Highlight) resolve(refCollection string, ref model.ReferenceFeature) (*rendered.Layer, int64, error) {
	ds, ok := h.deps.Host.DataSource(refCollection)
	if !ok || !ds.Selectable {
		return nil, 0, ErrNotExecutable
	}
	layer, ok := h.deps.Rendered.Layer(ds.ID)
	if !ok {
		return nil, 0, ErrNotExecutable
	}
	id, err := selection.ParseID(ref.Attributes[ds.ObjectIDField])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrNotExecutable, err)
	}
	return layer, id, nil
}

func (h *Highlight) Execute(ctx context.Context, refCollection string, ref model.ReferenceFeature) (uint64, error) {
	layer, id, err := h.resolve(refCollection, ref)
	if err != nil {
		return 0, err
	}
	var st selection.Stats
	layer.Update(func(fs []*rendered.Feature) {
		st = selection.Reconcile([]int64{id}, fs)
	})
	tok := h.seq.Add(1)
	h.deps.Logger.DebugContext(ctx, "feature highlighted", "layer", layer.ID(), "id", id, "selected", st.Selected)
	return tok, nil
}

func (h *Highlight) Configure(_ context.Context, _ Editor) (model.SearchConfig, bool) {
	return model.SearchConfig{}, true
}
