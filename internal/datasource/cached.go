package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/nearby-search/internal/cache/cellindex"
	"github.com/mohammed-shakir/nearby-search/internal/cache/keys"
	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	"github.com/mohammed-shakir/nearby-search/internal/core/observability"
)

// wgs84 is the only reference the H3 index understands.
const wgs84 = 4326

type Store interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type CellMapper interface {
	CellsForGeometry(g orb.Geometry, res int) (model.Cells, error)
}

// QueryCache stores query results in Redis and indexes every entry by the H3
// cells its search area covers. Cache failures degrade to the inner source.
type QueryCache struct {
	inner  Source
	store  Store
	index  cellindex.CellIndex
	mapper CellMapper
	res    int
	ttl    time.Duration
	logger *slog.Logger
}

var _ Source = (*QueryCache)(nil)

func NewQueryCache(
	logger *slog.Logger,
	inner Source,
	store Store,
	index cellindex.CellIndex,
	mapper CellMapper,
	res int,
	ttl time.Duration,
) *QueryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryCache{
		inner:  inner,
		store:  store,
		index:  index,
		mapper: mapper,
		res:    res,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *QueryCache) Resolution() int { return c.res }

func (c *QueryCache) ExecuteQuery(ctx context.Context, q model.SpatialQuery) (model.QueryResult, error) {
	// entries outside EPSG:4326 could never be invalidated by cell
	if q.Geometry == nil || q.SpatialRef.WKID != wgs84 {
		observability.IncQueryCache("bypass")
		return c.inner.ExecuteQuery(ctx, q)
	}

	key := keys.QueryKey(q.Layer, string(q.Predicate), q.SpatialRef.WKID, q.IDField, q.GeometryField, wkt.MarshalString(q.Geometry))
	if recs, ok := c.lookup(ctx, key); ok {
		observability.IncQueryCache("hit")
		return model.QueryResult{Records: recs}, nil
	}
	observability.IncQueryCache("miss")

	res, err := c.inner.ExecuteQuery(ctx, q)
	if err != nil || res.Canceled {
		return res, err
	}
	c.save(ctx, q, key, res.Records)
	return res, nil
}

func (c *QueryCache) lookup(ctx context.Context, key string) ([]model.Record, bool) {
	found, err := c.store.MGet(ctx, []string{key})
	if err != nil {
		c.logger.WarnContext(ctx, "query cache read failed", "key", key, "err", err)
		return nil, false
	}
	raw, ok := found[key]
	if !ok {
		return nil, false
	}
	var recs []model.Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		c.logger.WarnContext(ctx, "query cache entry corrupt", "key", key, "err", err)
		return nil, false
	}
	if recs == nil {
		recs = []model.Record{}
	}
	return recs, true
}

func (c *QueryCache) save(ctx context.Context, q model.SpatialQuery, key string, recs []model.Record) {
	cells, err := c.mapper.CellsForGeometry(q.Geometry, c.res)
	if err != nil {
		c.logger.WarnContext(ctx, "query cache skip: no cell cover", "layer", q.Layer, "err", err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	payload, err := json.Marshal(recs)
	if err != nil {
		c.logger.WarnContext(ctx, "query cache encode failed", "err", err)
		return
	}
	// index first so an entry is never reachable without being invalidatable
	if err := c.index.Register(ctx, q.Layer, c.res, cells, key, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "query cache index failed", "layer", q.Layer, "err", err)
		return
	}
	if err := c.store.Set(ctx, key, payload, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "query cache write failed", "key", key, "err", err)
		return
	}
	c.logger.DebugContext(ctx, "query cached", "layer", q.Layer, "cells", len(cells), "records", len(recs))
}

// InvalidateCells drops every cached query of layer whose area touches one of
// cells. cells must be at Resolution().
func (c *QueryCache) InvalidateCells(ctx context.Context, layer string, cells []string) (int, error) {
	qkeys, err := c.index.Lookup(ctx, layer, c.res, cells)
	if err != nil {
		return 0, fmt.Errorf("invalidate lookup: %w", err)
	}
	if len(qkeys) == 0 {
		return 0, nil
	}
	if err := c.store.Del(ctx, qkeys...); err != nil {
		return 0, fmt.Errorf("invalidate delete: %w", err)
	}
	return len(qkeys), nil
}
