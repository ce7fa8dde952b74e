// Package h3mapper covers geometries in EPSG:4326 with H3 cells.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
		return nil, fmt.Errorf("degenerate bbox %s", bb)
	}
	return m.CellsForGeometry(bb.Bound(), res)
}

// CellsForGeometry returns the sorted, unique cells covering g. Areas are
// polyfilled and every vertex adds its own cell, so features smaller than a
// cell still map to at least one.
func (m *Mapper) CellsForGeometry(g orb.Geometry, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errors.New("geometry is required")
	}
	set := make(map[string]struct{})
	if err := cover(set, g, res); err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, errors.New("geometry has no coordinates")
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func cover(set map[string]struct{}, g orb.Geometry, res int) error {
	switch t := g.(type) {
	case orb.Point:
		return addPoint(set, t, res)
	case orb.MultiPoint:
		return addPoints(set, t, res)
	case orb.LineString:
		return addPoints(set, t, res)
	case orb.MultiLineString:
		for _, ls := range t {
			if err := addPoints(set, ls, res); err != nil {
				return err
			}
		}
		return nil
	case orb.Ring:
		return addPolygon(set, orb.Polygon{t}, res)
	case orb.Polygon:
		return addPolygon(set, t, res)
	case orb.MultiPolygon:
		for i, p := range t {
			if err := addPolygon(set, p, res); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		return nil
	case orb.Bound:
		return addPolygon(set, t.ToPolygon(), res)
	case orb.Collection:
		for _, sub := range t {
			if err := cover(set, sub, res); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
}

func addPolygon(set map[string]struct{}, p orb.Polygon, res int) error {
	if len(p) == 0 {
		return errors.New("empty polygon")
	}
	outer := toLoop(p[0])
	if len(outer) < 3 {
		return errors.New("outer ring has < 4 vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(p); i++ {
		h := toLoop(p[i])
		if len(h) < 3 {
			return fmt.Errorf("hole %d has < 4 vertices", i-1)
		}
		holes = append(holes, h)
	}

	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return fmt.Errorf("h3 polyfill: %w", err)
	}
	for _, c := range cells {
		set[c.String()] = struct{}{}
	}
	for _, r := range p {
		if err := addPoints(set, r, res); err != nil {
			return err
		}
	}
	return nil
}

func addPoints(set map[string]struct{}, pts []orb.Point, res int) error {
	for _, p := range pts {
		if err := addPoint(set, p, res); err != nil {
			return err
		}
	}
	return nil
}

func addPoint(set map[string]struct{}, p orb.Point, res int) error {
	if p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
		return fmt.Errorf("coordinate %v is outside EPSG:4326 range", p)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat(), Lng: p.Lon()}, res)
	if err != nil {
		return fmt.Errorf("h3 cell: %w", err)
	}
	set[c.String()] = struct{}{}
	return nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop converts a ring to an h3 loop, dropping the closing vertex.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p.Lat(), Lng: p.Lon()})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}
