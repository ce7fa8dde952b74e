package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

var stockholm = orb.Polygon{{
	{18.00, 59.32}, {18.12, 59.32}, {18.12, 59.38}, {18.00, 59.38}, {18.00, 59.32},
}}

func TestBBox_HappyPath_SortedUnique(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 17.95, Y1: 59.30, X2: 18.15, Y2: 59.40, SRID: "EPSG:4326"}

	cells, err := m.CellsForBBox(bb, 8)
	if err != nil {
		t.Fatalf("CellsForBBox err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for bbox")
	}
	if !sort.StringsAreSorted([]string(cells)) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}
}

func TestPolygon_Deterministic(t *testing.T) {
	m := New()
	res := 9
	cp, err := m.CellsForGeometry(stockholm, res)
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	if len(cp) == 0 {
		t.Fatalf("expected non-empty polygon coverage")
	}
	if !sort.StringsAreSorted([]string(cp)) || hasDups(cp) {
		t.Fatalf("polygon cells must be sorted + unique")
	}
	cp2, err := m.CellsForGeometry(stockholm, res)
	if err != nil {
		t.Fatalf("polygon second call: %v", err)
	}
	if !reflect.DeepEqual(cp, cp2) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestSmallPolygon_StillCovered(t *testing.T) {
	m := New()
	tiny := orb.Polygon{{
		{18.0001, 59.3201}, {18.0002, 59.3201}, {18.0002, 59.3202}, {18.0001, 59.3202}, {18.0001, 59.3201},
	}}
	cells, err := m.CellsForGeometry(tiny, 6)
	if err != nil {
		t.Fatalf("tiny polygon: %v", err)
	}
	want, err := h3.LatLngToCell(h3.LatLng{Lat: 59.3201, Lng: 18.0001}, 6)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	if !contains(cells, want.String()) {
		t.Fatalf("tiny polygon must map to its vertex cell %s, got %v", want, cells)
	}
}

func TestPointAndMultiPolygon(t *testing.T) {
	m := New()
	p, err := m.CellsForGeometry(orb.Point{18.0686, 59.3293}, 8)
	if err != nil || len(p) != 1 {
		t.Fatalf("point cells=%v err=%v", p, err)
	}

	shifted := orb.Polygon{{
		{18.50, 59.32}, {18.62, 59.32}, {18.62, 59.38}, {18.50, 59.38}, {18.50, 59.32},
	}}
	a, _ := m.CellsForGeometry(stockholm, 8)
	b, _ := m.CellsForGeometry(shifted, 8)
	mp, err := m.CellsForGeometry(orb.MultiPolygon{stockholm, shifted}, 8)
	if err != nil {
		t.Fatalf("multipolygon: %v", err)
	}
	for _, c := range append(a, b...) {
		if !contains(mp, c) {
			t.Fatalf("multipolygon coverage misses %s", c)
		}
	}
}

func TestBounds_InvalidInputs(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}

	if _, err := m.CellsForBBox(bb, -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CellsForBBox(bb, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellsForBBox(model.BBox{X1: 12, Y1: 55, X2: 11, Y2: 56}, 8); err == nil {
		t.Fatalf("expected error for inverted bbox")
	}
	if _, err := m.CellsForGeometry(orb.Polygon{{}}, 8); err == nil {
		t.Fatalf("expected error for degenerate polygon")
	}
	if _, err := m.CellsForGeometry(orb.Point{500000, 6500000}, 8); err == nil {
		t.Fatalf("expected error for projected coordinates")
	}
	if _, err := m.CellsForGeometry(nil, 8); err == nil {
		t.Fatalf("expected error for nil geometry")
	}
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
