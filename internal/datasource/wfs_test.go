package datasource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

type upstreamRecorder struct {
	mu        sync.Mutex
	lastPath  string
	lastQuery url.Values
	status    int
	body      string
}

func (u *upstreamRecorder) handler(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.lastPath = r.URL.Path
	u.lastQuery = r.URL.Query()
	status, body := u.status, u.body
	u.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (u *upstreamRecorder) snapshot() (string, url.Values) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastPath, u.lastQuery
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleQuery() model.SpatialQuery {
	return model.SpatialQuery{
		Layer:      "demo:places",
		IDField:    "objectid",
		Geometry:   orb.Polygon{{{18, 59}, {18.1, 59}, {18.1, 59.1}, {18, 59.1}, {18, 59}}},
		Predicate:  model.PredicateIntersects,
		SpatialRef: model.SpatialReference{WKID: 4326},
	}
}

const twoFeatures = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":"places.2","geometry":{"type":"Point","coordinates":[18.05,59.05]},"properties":{"objectid":2,"name":"b"}},
 {"type":"Feature","id":"places.4","geometry":{"type":"Point","coordinates":[18.06,59.06]},"properties":{"objectid":4,"name":"d"}}
]}`

func TestWFS_ExecuteQuery_BuildsGetFeatureAndDecodes(t *testing.T) {
	rec := &upstreamRecorder{body: twoFeatures}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)

	src, err := NewWFS(quietLogger(), srv.Client(), srv.URL+"/geoserver/ows")
	if err != nil {
		t.Fatalf("NewWFS: %v", err)
	}
	res, err := src.ExecuteQuery(context.Background(), sampleQuery())
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if res.Canceled || len(res.Records) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Records[0].ID != "2" || res.Records[1].ID != "4" {
		t.Fatalf("ids=%q,%q", res.Records[0].ID, res.Records[1].ID)
	}

	path, q := rec.snapshot()
	if path != "/geoserver/ows" {
		t.Fatalf("path=%q", path)
	}
	if q.Get("request") != "GetFeature" || q.Get("typeNames") != "demo:places" || q.Get("srsName") != "EPSG:4326" {
		t.Fatalf("unexpected query: %v", q)
	}
	want := "INTERSECTS(geom, SRID=4326;POLYGON((18 59,18.1 59,18.1 59.1,18 59.1,18 59)))"
	if got := q.Get("cql_filter"); got != want {
		t.Fatalf("cql_filter=%q want %q", got, want)
	}
}

func TestWFS_ExecuteQuery_EmptyIsSuccess(t *testing.T) {
	rec := &upstreamRecorder{body: `{"type":"FeatureCollection","features":[]}`}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)

	src, _ := NewWFS(quietLogger(), srv.Client(), srv.URL+"/ows")
	res, err := src.ExecuteQuery(context.Background(), sampleQuery())
	if err != nil || res.Canceled || len(res.Records) != 0 {
		t.Fatalf("empty result = %+v, %v", res, err)
	}
}

func TestWFS_ExecuteQuery_UpstreamStatus(t *testing.T) {
	rec := &upstreamRecorder{status: http.StatusInternalServerError, body: "boom"}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)

	src, _ := NewWFS(quietLogger(), srv.Client(), srv.URL+"/ows")
	_, err := src.ExecuteQuery(context.Background(), sampleQuery())
	var uerr *UpstreamError
	if !errors.As(err, &uerr) || uerr.Status != http.StatusInternalServerError || uerr.Body != "boom" {
		t.Fatalf("expected UpstreamError 500, got %v", err)
	}
}

func TestWFS_ExecuteQuery_MalformedBody(t *testing.T) {
	rec := &upstreamRecorder{body: `<html>`}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)

	src, _ := NewWFS(quietLogger(), srv.Client(), srv.URL+"/ows")
	if _, err := src.ExecuteQuery(context.Background(), sampleQuery()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestWFS_ExecuteQuery_CancelVersusDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	src, _ := NewWFS(quietLogger(), srv.Client(), srv.URL+"/ows")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := src.ExecuteQuery(ctx, sampleQuery())
	if err != nil || !res.Canceled {
		t.Fatalf("cancel must report Canceled without error, got %+v, %v", res, err)
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer dcancel()
	res, err = src.ExecuteQuery(dctx, sampleQuery())
	if !errors.Is(err, context.DeadlineExceeded) || res.Canceled {
		t.Fatalf("deadline must be a failure, got %+v, %v", res, err)
	}
}

func TestWFS_ExecuteQuery_RejectsQueryWithoutGeometry(t *testing.T) {
	src, _ := NewWFS(quietLogger(), nil, "http://localhost:1/ows")
	q := sampleQuery()
	q.Geometry = nil
	if _, err := src.ExecuteQuery(context.Background(), q); err == nil {
		t.Fatalf("expected error for query without geometry")
	}
}
