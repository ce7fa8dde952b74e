// Package host describes the maps and data sources a client renders. It is
// built once from configuration and passed to searches, never read globally.
package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/nearby-search/internal/core/config"
	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

type DataSource struct {
	ID            string
	Name          string
	Layer         string
	ObjectIDField string
	GeometryField string
	MapID         string
	Selectable    bool
}

type Map struct {
	ID         string
	SpatialRef model.SpatialReference
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	maps    map[string]Map
	sources []DataSource
	byID    map[string]int
}

// New validates the data sources against maps. A source without a map id
// belongs to the first map.
func New(maps []Map, sources []DataSource) (*Registry, error) {
	if len(maps) == 0 {
		return nil, errors.New("host: at least one map is required")
	}
	r := &Registry{
		maps: make(map[string]Map, len(maps)),
		byID: make(map[string]int, len(sources)),
	}
	for _, m := range maps {
		if m.ID == "" || m.SpatialRef.WKID <= 0 {
			return nil, fmt.Errorf("host: invalid map %+v", m)
		}
		if _, dup := r.maps[m.ID]; dup {
			return nil, fmt.Errorf("host: duplicate map %q", m.ID)
		}
		r.maps[m.ID] = m
	}
	for _, ds := range sources {
		if strings.TrimSpace(ds.ID) == "" || strings.TrimSpace(ds.Layer) == "" {
			return nil, fmt.Errorf("host: data source needs id and layer: %+v", ds)
		}
		if _, dup := r.byID[ds.ID]; dup {
			return nil, fmt.Errorf("host: duplicate data source %q", ds.ID)
		}
		if ds.MapID == "" {
			ds.MapID = maps[0].ID
		}
		if _, ok := r.maps[ds.MapID]; !ok {
			return nil, fmt.Errorf("host: data source %q references unknown map %q", ds.ID, ds.MapID)
		}
		if ds.Name == "" {
			ds.Name = ds.ID
		}
		r.byID[ds.ID] = len(r.sources)
		r.sources = append(r.sources, ds)
	}
	return r, nil
}

func FromConfig(cfg config.Config) (*Registry, error) {
	maps := make([]Map, 0, len(cfg.Maps))
	for _, m := range cfg.Maps {
		maps = append(maps, Map{ID: m.ID, SpatialRef: model.SpatialReference{WKID: m.WKID}})
	}
	sources := make([]DataSource, 0, len(cfg.DataSources))
	for _, d := range cfg.DataSources {
		sources = append(sources, DataSource{
			ID:            d.ID,
			Layer:         d.Layer,
			ObjectIDField: d.ObjectIDField,
			GeometryField: d.GeometryField,
			MapID:         d.MapID,
			Selectable:    true,
		})
	}
	return New(maps, sources)
}

func (r *Registry) DataSource(id string) (DataSource, bool) {
	i, ok := r.byID[id]
	if !ok {
		return DataSource{}, false
	}
	return r.sources[i], true
}

// DataSources returns all sources in configuration order.
func (r *Registry) DataSources() []DataSource {
	out := make([]DataSource, len(r.sources))
	copy(out, r.sources)
	return out
}

// Selectable returns the sources a search may target, in configuration order.
func (r *Registry) Selectable() []DataSource {
	var out []DataSource
	for _, ds := range r.sources {
		if ds.Selectable {
			out = append(out, ds)
		}
	}
	return out
}

// MapFor resolves the map that renders the data source.
func (r *Registry) MapFor(dataSourceID string) (Map, bool) {
	ds, ok := r.DataSource(dataSourceID)
	if !ok {
		return Map{}, false
	}
	m, ok := r.maps[ds.MapID]
	return m, ok
}
