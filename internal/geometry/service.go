// Package geometry calls an ArcGIS-style GeometryServer to compute buffer
// polygons around reference features.
package geometry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	"github.com/mohammed-shakir/nearby-search/internal/core/observability"
)

// esriSRUnit_Meter; distances are always sent in meters
const unitMeter = 9001

var ErrMalformedResponse = errors.New("malformed geometry service response")

// ServiceError is a failure reported by the geometry service itself.
type ServiceError struct {
	Status  int
	Code    int
	Message string
	Details []string
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString("geometry service error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " code=%d", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	return b.String()
}

// Service computes a buffer polygon. Cancelling ctx abandons the request.
type Service interface {
	Buffer(ctx context.Context, req model.BufferRequest) (orb.Geometry, error)
}

type Client struct {
	logger    *slog.Logger
	client    *http.Client
	bufferURL *url.URL
	geodesic  bool
	startNow  func() time.Time
}

var _ Service = (*Client)(nil)

func New(logger *slog.Logger, client *http.Client, base string, geodesic bool) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/buffer")
	if err != nil {
		return nil, fmt.Errorf("parse geometry service url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("geometry service url %q must be absolute", base)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:    logger,
		client:    client,
		bufferURL: u,
		geodesic:  geodesic,
		startNow:  time.Now,
	}, nil
}

func (c *Client) Buffer(ctx context.Context, req model.BufferRequest) (orb.Geometry, error) {
	form, err := c.bufferForm(req)
	if err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bufferURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build buffer request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hreq.Header.Set("Accept", "application/json")

	start := c.startNow()
	resp, err := c.client.Do(hreq)
	if err != nil {
		observability.ObserveUpstream("geometry_buffer", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("buffer request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		serr := &ServiceError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		observability.ObserveUpstream("geometry_buffer", serr, time.Since(start).Seconds())
		return nil, serr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		observability.ObserveUpstream("geometry_buffer", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("read buffer response: %w", err)
	}
	poly, err := decodeBuffer(body)
	observability.ObserveUpstream("geometry_buffer", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "buffer done",
		"token", req.Token,
		"type", poly.GeoJSONType(),
		"duration", time.Since(start).String())
	return poly, nil
}

func (c *Client) bufferForm(req model.BufferRequest) (url.Values, error) {
	if !(req.Distance > 0) {
		return nil, fmt.Errorf("%w: buffer distance must be > 0", model.ErrConfigInvalid)
	}
	if !req.Unit.Valid() {
		return nil, fmt.Errorf("%w: unknown unit %q", model.ErrConfigInvalid, req.Unit)
	}
	geoms, err := encodeGeometrySet(req.Geometry)
	if err != nil {
		return nil, err
	}
	sr := strconv.Itoa(req.SpatialRef.WKID)

	form := url.Values{}
	form.Set("f", "json")
	form.Set("geometries", geoms)
	if req.SpatialRef.WKID > 0 {
		form.Set("inSR", sr)
		form.Set("outSR", sr)
		form.Set("bufferSR", sr)
	}
	form.Set("distances", strconv.FormatFloat(req.Unit.Meters(req.Distance), 'f', -1, 64))
	form.Set("unit", strconv.Itoa(unitMeter))
	form.Set("unionResults", "true")
	form.Set("geodesic", strconv.FormatBool(c.geodesic))
	return form, nil
}
