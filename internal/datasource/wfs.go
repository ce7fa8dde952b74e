package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	"github.com/mohammed-shakir/nearby-search/internal/core/observability"
	"github.com/mohammed-shakir/nearby-search/internal/core/ogc"
)

// UpstreamError is a non-2xx answer from GeoServer.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("geoserver status %d", e.Status)
	}
	return fmt.Sprintf("geoserver status %d: %s", e.Status, e.Body)
}

// WFS queries a GeoServer layer with a WFS GetFeature request.
type WFS struct {
	logger   *slog.Logger
	client   *http.Client
	owsURL   *url.URL
	startNow func() time.Time // for tests
}

var _ Source = (*WFS)(nil)

func NewWFS(logger *slog.Logger, client *http.Client, ows string) (*WFS, error) {
	u, err := url.Parse(ows)
	if err != nil {
		return nil, fmt.Errorf("parse ows url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WFS{
		logger:   logger,
		client:   client,
		owsURL:   u,
		startNow: time.Now,
	}, nil
}

func (s *WFS) ExecuteQuery(ctx context.Context, q model.SpatialQuery) (model.QueryResult, error) {
	params, err := ogc.BuildGetFeatureParams(q)
	if err != nil {
		return model.QueryResult{}, fmt.Errorf("build getfeature: %w", err)
	}
	u := *s.owsURL
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.QueryResult{}, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := s.startNow()
	resp, err := s.client.Do(req)
	if err != nil {
		observability.ObserveUpstream("geoserver", err, time.Since(start).Seconds())
		if canceled(ctx) {
			return model.QueryResult{Canceled: true}, nil
		}
		return model.QueryResult{}, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		uerr := &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		observability.ObserveUpstream("geoserver", uerr, time.Since(start).Seconds())
		return model.QueryResult{}, uerr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ObserveUpstream("geoserver", err, time.Since(start).Seconds())
		if canceled(ctx) {
			return model.QueryResult{Canceled: true}, nil
		}
		return model.QueryResult{}, fmt.Errorf("read upstream body: %w", err)
	}
	recs, err := ogc.DecodeRecords(body, q.IDField)
	observability.ObserveUpstream("geoserver", err, time.Since(start).Seconds())
	if err != nil {
		return model.QueryResult{}, err
	}

	s.logger.DebugContext(ctx, "getfeature done",
		"layer", q.Layer,
		"records", len(recs),
		"bytes", len(body),
		"duration", time.Since(start).String())
	return model.QueryResult{Records: recs}, nil
}

// canceled distinguishes an abandoned request from an expired deadline.
func canceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
