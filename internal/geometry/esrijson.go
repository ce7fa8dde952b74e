package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

type esriGeometrySet struct {
	GeometryType string `json:"geometryType"`
	Geometries   []any  `json:"geometries"`
}

type esriPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type esriMultipoint struct {
	Points [][2]float64 `json:"points"`
}

type esriPolyline struct {
	Paths [][][2]float64 `json:"paths"`
}

type esriPolygon struct {
	Rings [][][2]float64 `json:"rings"`
}

// encodeGeometrySet renders g as the geometry-set JSON the buffer operation
// takes. Polygon rings are rewound to Esri order (outer clockwise).
func encodeGeometrySet(g orb.Geometry) (string, error) {
	var set esriGeometrySet
	switch t := g.(type) {
	case orb.Point:
		set = esriGeometrySet{GeometryType: "esriGeometryPoint", Geometries: []any{esriPoint{X: t[0], Y: t[1]}}}
	case orb.MultiPoint:
		pts := make([][2]float64, 0, len(t))
		for _, p := range t {
			pts = append(pts, p)
		}
		set = esriGeometrySet{GeometryType: "esriGeometryMultipoint", Geometries: []any{esriMultipoint{Points: pts}}}
	case orb.LineString:
		set = esriGeometrySet{GeometryType: "esriGeometryPolyline", Geometries: []any{esriPolyline{Paths: [][][2]float64{path(t)}}}}
	case orb.MultiLineString:
		paths := make([][][2]float64, 0, len(t))
		for _, ls := range t {
			paths = append(paths, path(ls))
		}
		set = esriGeometrySet{GeometryType: "esriGeometryPolyline", Geometries: []any{esriPolyline{Paths: paths}}}
	case orb.Ring:
		set = polygonSet(orb.MultiPolygon{orb.Polygon{t}})
	case orb.Polygon:
		set = polygonSet(orb.MultiPolygon{t})
	case orb.MultiPolygon:
		set = polygonSet(t)
	case orb.Bound:
		set = polygonSet(orb.MultiPolygon{t.ToPolygon()})
	case nil:
		return "", errors.New("reference geometry is empty")
	default:
		return "", fmt.Errorf("unsupported reference geometry %s", g.GeoJSONType())
	}
	b, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode geometries: %w", err)
	}
	return string(b), nil
}

func path(ls orb.LineString) [][2]float64 {
	out := make([][2]float64, 0, len(ls))
	for _, p := range ls {
		out = append(out, p)
	}
	return out
}

func polygonSet(mp orb.MultiPolygon) esriGeometrySet {
	var rings [][][2]float64
	for _, poly := range mp {
		for i, r := range poly {
			want := orb.CCW
			if i == 0 {
				want = orb.CW
			}
			rings = append(rings, path(orb.LineString(wound(r, want))))
		}
	}
	return esriGeometrySet{GeometryType: "esriGeometryPolygon", Geometries: []any{esriPolygon{Rings: rings}}}
}

// wound returns a copy of r in the requested orientation.
func wound(r orb.Ring, want orb.Orientation) orb.Ring {
	out := r.Clone()
	if o := out.Orientation(); o != 0 && o != want {
		out.Reverse()
	}
	return out
}

type bufferResponse struct {
	Geometries []struct {
		Rings [][][]float64 `json:"rings"`
	} `json:"geometries"`
	Error *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

// decodeBuffer parses a buffer response into an orb.Polygon, or an
// orb.MultiPolygon when the service returns several outer rings.
func decodeBuffer(body []byte) (orb.Geometry, error) {
	var resp bufferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Error != nil {
		return nil, &ServiceError{Code: resp.Error.Code, Message: resp.Error.Message, Details: resp.Error.Details}
	}
	if len(resp.Geometries) == 0 {
		return nil, fmt.Errorf("%w: no geometries", ErrMalformedResponse)
	}

	var polys orb.MultiPolygon
	for gi, g := range resp.Geometries {
		if len(g.Rings) == 0 {
			return nil, fmt.Errorf("%w: geometry %d has no rings", ErrMalformedResponse, gi)
		}
		for ri, raw := range g.Rings {
			ring, err := toRing(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: geometry %d ring %d: %v", ErrMalformedResponse, gi, ri, err)
			}
			// Esri outer rings are clockwise, holes counter-clockwise
			if ring.Orientation() == orb.CCW && len(polys) > 0 {
				last := len(polys) - 1
				polys[last] = append(polys[last], wound(ring, orb.CW))
				continue
			}
			polys = append(polys, orb.Polygon{wound(ring, orb.CCW)})
		}
	}
	if len(polys) == 1 {
		return polys[0], nil
	}
	return polys, nil
}

func toRing(raw [][]float64) (orb.Ring, error) {
	ring := make(orb.Ring, 0, len(raw)+1)
	for _, xy := range raw {
		if len(xy) < 2 {
			return nil, errors.New("coordinate must have x and y")
		}
		ring = append(ring, orb.Point{xy[0], xy[1]})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	if len(ring) < 4 {
		return nil, errors.New("ring has < 4 points")
	}
	return ring, nil
}
