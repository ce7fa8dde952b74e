package invalidation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_BBoxAndPolygonMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Layer: "demo:places", TS: mustTS(),
		BBox:     &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
		Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`),
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when both bbox and geometry are set")
	}
}

func TestEvent_Validate_BBoxHappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: "delete", Layer: "demo:places", TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_PolygonHappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: "insert", Layer: "demo:places", TS: mustTS(),
		Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`),
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_RejectsBadBBox(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Layer: "demo:places", TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 11, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for non-increasing bbox")
	}
}

func TestEvent_Validate_AcceptsPointGeometry(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Layer: "demo:places", TS: mustTS(),
		Geometry: json.RawMessage(`{"type":"Point","coordinates":[18.05,59.05]}`),
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_RejectsUnknownGeometryType(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Layer: "demo:places", TS: mustTS(),
		Geometry: json.RawMessage(`{"type":"Circle","coordinates":[18.05,59.05]}`),
	}
	err := ev.Validate()
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("want ErrInvalidEvent, got %v", err)
	}
}

func TestEvent_Footprint(t *testing.T) {
	bb := Event{BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}}
	g, err := bb.Footprint()
	if err != nil {
		t.Fatalf("bbox footprint: %v", err)
	}
	b, ok := g.(orb.Bound)
	if !ok || b.Min != (orb.Point{11, 55}) || b.Max != (orb.Point{12, 56}) {
		t.Fatalf("bbox footprint = %#v", g)
	}

	pt := Event{Geometry: json.RawMessage(`{"type":"Point","coordinates":[18.05,59.05]}`)}
	g, err = pt.Footprint()
	if err != nil {
		t.Fatalf("point footprint: %v", err)
	}
	if p, ok := g.(orb.Point); !ok || p != (orb.Point{18.05, 59.05}) {
		t.Fatalf("point footprint = %#v", g)
	}

	if _, err := (Event{}).Footprint(); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("empty footprint err = %v", err)
	}
}

func TestDecode(t *testing.T) {
	if _, err := Decode([]byte("{")); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("bad json err = %v", err)
	}
	if _, err := Decode([]byte(`{"version":2}`)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("bad version err = %v", err)
	}
	ev, err := Decode([]byte(`{"version":1,"op":"delete","layer":"demo:places","ts":"2025-10-26T12:30:45Z",
		"feature_id":7,"bbox":{"x1":11,"y1":55,"x2":12,"y2":56,"srid":"EPSG:4326"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Op != "delete" || ev.Layer != "demo:places" || !ev.TS.Equal(mustTS()) {
		t.Fatalf("decoded = %+v", ev)
	}
}
