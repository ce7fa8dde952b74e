package geometry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

const squareWithHole = `{"geometryType":"esriGeometryPolygon","geometries":[{"rings":[
	[[0,0],[0,10],[10,10],[10,0],[0,0]],
	[[2,2],[4,2],[4,4],[2,4],[2,2]]
]}]}`

type upstreamRecorder struct {
	mu       sync.Mutex
	calls    int
	lastPath string
	lastForm url.Values
	status   int
	body     string
}

func (u *upstreamRecorder) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	u.mu.Lock()
	u.calls++
	u.lastPath = r.URL.Path
	u.lastForm = r.PostForm
	status, body := u.status, u.body
	u.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newClient(t *testing.T, up *upstreamRecorder) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	t.Cleanup(srv.Close)
	c, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.Client(), srv.URL+"/Geometry/GeometryServer/", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func pointReq() model.BufferRequest {
	return model.BufferRequest{
		Geometry:   orb.Point{11.5, 55.5},
		Distance:   5,
		Unit:       model.UnitKilometer,
		SpatialRef: model.SpatialReference{WKID: 3857},
		Token:      1,
	}
}

func TestBuffer_EncodesRequest(t *testing.T) {
	up := &upstreamRecorder{body: squareWithHole}
	c := newClient(t, up)

	if _, err := c.Buffer(context.Background(), pointReq()); err != nil {
		t.Fatalf("Buffer: %v", err)
	}

	if up.lastPath != "/Geometry/GeometryServer/buffer" {
		t.Fatalf("path=%q", up.lastPath)
	}
	f := up.lastForm
	want := map[string]string{
		"f": "json", "inSR": "3857", "outSR": "3857", "bufferSR": "3857",
		"distances": "5000", "unit": "9001", "unionResults": "true", "geodesic": "false",
	}
	for k, v := range want {
		if got := f.Get(k); got != v {
			t.Fatalf("form %q=%q want %q", k, got, v)
		}
	}
	if g := f.Get("geometries"); !strings.Contains(g, `"esriGeometryPoint"`) || !strings.Contains(g, `"x":11.5`) {
		t.Fatalf("unexpected geometries %q", g)
	}
}

func TestBuffer_DecodesPolygonWithHole(t *testing.T) {
	c := newClient(t, &upstreamRecorder{body: squareWithHole})

	g, err := c.Buffer(context.Background(), pointReq())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	poly, ok := g.(orb.Polygon)
	if !ok {
		t.Fatalf("want orb.Polygon, got %T", g)
	}
	if len(poly) != 2 {
		t.Fatalf("rings=%d want 2", len(poly))
	}
	if poly[0].Orientation() != orb.CCW || poly[1].Orientation() != orb.CW {
		t.Fatalf("rings not rewound to GeoJSON order")
	}
}

func TestBuffer_SeveralOuterRingsBecomeMultiPolygon(t *testing.T) {
	body := `{"geometries":[{"rings":[
		[[0,0],[0,1],[1,1],[1,0],[0,0]],
		[[5,5],[5,6],[6,6],[6,5]]
	]}]}`
	c := newClient(t, &upstreamRecorder{body: body})

	g, err := c.Buffer(context.Background(), pointReq())
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	mp, ok := g.(orb.MultiPolygon)
	if !ok || len(mp) != 2 {
		t.Fatalf("want 2-part MultiPolygon, got %T %v", g, g)
	}
	if !mp[1][0].Closed() {
		t.Fatalf("open ring must be closed")
	}
}

func TestBuffer_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"service error", 200, `{"error":{"code":400,"message":"Unable to complete operation.","details":["bad sr"]}}`, func(err error) bool {
			var se *ServiceError
			return errors.As(err, &se) && se.Code == 400 && strings.Contains(err.Error(), "bad sr")
		}},
		{"http status", 502, "bad gateway", func(err error) bool {
			var se *ServiceError
			return errors.As(err, &se) && se.Status == 502
		}},
		{"malformed json", 200, `{"geometries":`, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"no geometries", 200, `{"geometries":[]}`, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"short ring", 200, `{"geometries":[{"rings":[[[0,0],[1,1]]]}]}`, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, &upstreamRecorder{status: tc.status, body: tc.body})
			_, err := c.Buffer(context.Background(), pointReq())
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuffer_RejectsInvalidRequest(t *testing.T) {
	up := &upstreamRecorder{body: squareWithHole}
	c := newClient(t, up)

	req := pointReq()
	req.Distance = 0
	if _, err := c.Buffer(context.Background(), req); !errors.Is(err, model.ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
	req = pointReq()
	req.Geometry = orb.Collection{orb.Point{1, 2}}
	if _, err := c.Buffer(context.Background(), req); err == nil {
		t.Fatalf("expected unsupported geometry error")
	}
	if up.calls != 0 {
		t.Fatalf("invalid requests must not reach the service, calls=%d", up.calls)
	}
}

func TestBuffer_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(nil, srv.Client(), srv.URL, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Buffer(ctx, pointReq()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New(nil, nil, "geometry/server", false); err == nil {
		t.Fatalf("expected error for relative url")
	}
}

func TestEncodeGeometrySet_PolygonIsClockwise(t *testing.T) {
	ccw := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	s, err := encodeGeometrySet(ccw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(s, `"rings":[[[0,0],[0,10],[10,10],[10,0],[0,0]]]`) {
		t.Fatalf("outer ring not clockwise: %s", s)
	}
	if ccw[0][1] != (orb.Point{10, 0}) {
		t.Fatalf("input geometry must not be mutated")
	}
}

type countingService struct {
	calls atomic.Int32
	err   error
}

func (s *countingService) Buffer(_ context.Context, _ model.BufferRequest) (orb.Geometry, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}, nil
}

func TestCached_MemoizesSuccessOnly(t *testing.T) {
	inner := &countingService{}
	c, err := NewCached(inner, 8)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	ctx := context.Background()

	for range 3 {
		if _, err := c.Buffer(ctx, pointReq()); err != nil {
			t.Fatalf("Buffer: %v", err)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Fatalf("inner calls=%d want 1", n)
	}

	// same distance in another unit is the same buffer
	req := pointReq()
	req.Distance, req.Unit = 5000, model.UnitMeter
	if _, err := c.Buffer(ctx, req); err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if n := inner.calls.Load(); n != 1 {
		t.Fatalf("equivalent request missed the cache, calls=%d", n)
	}

	req.SpatialRef.WKID = 4326
	_, _ = c.Buffer(ctx, req)
	if n := inner.calls.Load(); n != 2 {
		t.Fatalf("different sr must miss, calls=%d", n)
	}

	failing := &countingService{err: errors.New("down")}
	fc, _ := NewCached(failing, 8)
	_, _ = fc.Buffer(ctx, pointReq())
	_, _ = fc.Buffer(ctx, pointReq())
	if n := failing.calls.Load(); n != 2 || fc.Len() != 0 {
		t.Fatalf("errors must not be cached: calls=%d len=%d", n, fc.Len())
	}
}
