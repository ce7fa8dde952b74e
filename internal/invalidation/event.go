// Package invalidation describes feature change events published by the
// editing side. A change to a layer invalidates cached spatial query results
// that overlap its footprint.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var ErrInvalidEvent = errors.New("invalid change event")

type Event struct {
	Version   int             `json:"version"`
	Op        string          `json:"op"`
	Layer     string          `json:"layer"`
	TS        time.Time       `json:"ts"`
	FeatureID any             `json:"feature_id,omitempty"`
	Source    string          `json:"source,omitempty"`
	BBox      *BBox           `json:"bbox,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

// geometry types a feature change may carry
var footprintTypes = map[string]bool{
	"Point":           true,
	"MultiPoint":      true,
	"LineString":      true,
	"MultiLineString": true,
	"Polygon":         true,
	"MultiPolygon":    true,
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return invalid("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return invalid("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return invalid("layer is required")
	}
	if e.TS.IsZero() {
		return invalid("ts is required")
	}
	hasBBox := e.BBox != nil
	hasGeom := len(e.Geometry) > 0
	if hasBBox == hasGeom {
		return invalid("exactly one of bbox or geometry is required")
	}
	if hasBBox {
		bb := *e.BBox
		if bb.SRID != "EPSG:4326" {
			return invalid("bbox.srid must be EPSG:4326")
		}
		if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
			return invalid("bbox longitude out of range")
		}
		if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
			return invalid("bbox latitude out of range")
		}
		if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
			return invalid("bbox must satisfy x2>x1 and y2>y1")
		}
		return nil
	}
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(e.Geometry, &hdr); err != nil {
		return invalid("geometry parse: %v", err)
	}
	if !footprintTypes[hdr.Type] {
		return invalid("unsupported geometry.type %q", hdr.Type)
	}
	return nil
}

// Footprint returns the area touched by the change in EPSG:4326. A bbox
// becomes an orb.Bound.
func (e Event) Footprint() (orb.Geometry, error) {
	if e.BBox != nil {
		return orb.Bound{
			Min: orb.Point{e.BBox.X1, e.BBox.Y1},
			Max: orb.Point{e.BBox.X2, e.BBox.Y2},
		}, nil
	}
	if len(e.Geometry) == 0 {
		return nil, invalid("missing bbox and geometry")
	}
	g, err := geojson.UnmarshalGeometry(e.Geometry)
	if err != nil {
		return nil, invalid("geometry decode: %v", err)
	}
	return g.Geometry(), nil
}

// Decode parses and validates one message payload.
func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, invalid("json decode: %v", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
