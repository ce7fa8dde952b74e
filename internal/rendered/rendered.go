// Package rendered holds the features a host client currently displays, per
// data source, together with their selected flags.
package rendered

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type Feature struct {
	idField  string
	id       any
	attrs    map[string]any
	geom     orb.Geometry
	selected atomic.Bool
}

// NewFeature builds a feature whose identifier is attrs[idField], or fid when
// the attribute is absent.
func NewFeature(idField string, fid any, attrs map[string]any, geom orb.Geometry) *Feature {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Feature{idField: idField, id: fid, attrs: attrs, geom: geom}
}

// RawID returns the identifier as rendered; it may not parse.
func (f *Feature) RawID() any {
	if v, ok := f.attrs[f.idField]; ok && v != nil {
		return v
	}
	return f.id
}

func (f *Feature) Selected() bool { return f.selected.Load() }
func (f *Feature) SetSelected(v bool) { f.selected.Store(v) }
func (f *Feature) Geometry() orb.Geometry { return f.geom }

// Attribute returns a single attribute value.
func (f *Feature) Attribute(name string) (any, bool) {
	v, ok := f.attrs[name]
	return v, ok
}

type Layer struct {
	id      string
	idField string

	mu       sync.RWMutex
	features []*Feature
}

func (l *Layer) ID() string      { return l.id }
func (l *Layer) IDField() string { return l.idField }

// Features returns a snapshot of the layer's features.
func (l *Layer) Features() []*Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Feature, len(l.features))
	copy(out, l.features)
	return out
}

func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.features)
}

// Replace swaps the layer content; new features start unselected.
func (l *Layer) Replace(fs []*Feature) {
	l.mu.Lock()
	l.features = fs
	l.mu.Unlock()
}

// Update runs fn with exclusive access to the layer so that selection
// changes from different searches never interleave.
func (l *Layer) Update(fn func(features []*Feature)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.features)
}

// LoadGeoJSON replaces the layer with the features of a FeatureCollection.
func (l *Layer) LoadGeoJSON(body []byte) (int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return 0, fmt.Errorf("parse feature collection: %w", err)
	}
	fs := make([]*Feature, 0, len(fc.Features))
	for _, gf := range fc.Features {
		if gf == nil {
			continue
		}
		fs = append(fs, NewFeature(l.idField, gf.ID, map[string]any(gf.Properties), gf.Geometry))
	}
	l.Replace(fs)
	return len(fs), nil
}

// SelectedIDs returns the raw identifiers of the selected features, in layer order.
func (l *Layer) SelectedIDs() []any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []any{}
	for _, f := range l.features {
		if f.Selected() {
			out = append(out, f.RawID())
		}
	}
	return out
}

// Index is the set of rendered layers keyed by data source id.
type Index struct {
	mu     sync.RWMutex
	layers map[string]*Layer
}

func NewIndex() *Index {
	return &Index{layers: make(map[string]*Layer)}
}

// Ensure returns the layer for id, creating an empty one if needed.
func (x *Index) Ensure(id, idField string) *Layer {
	x.mu.Lock()
	defer x.mu.Unlock()
	if l, ok := x.layers[id]; ok {
		return l
	}
	l := &Layer{id: id, idField: idField}
	x.layers[id] = l
	return l
}

func (x *Index) Layer(id string) (*Layer, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	l, ok := x.layers[id]
	return l, ok
}

func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.layers))
	for id := range x.layers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
