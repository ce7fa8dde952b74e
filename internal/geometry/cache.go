package geometry

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

// Cached memoizes successful buffers in a bounded in-process LRU.
type Cached struct {
	inner Service
	lru   *lru.Cache[uint64, orb.Geometry]
}

var _ Service = (*Cached)(nil)

func NewCached(inner Service, size int) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[uint64, orb.Geometry](size)
	if err != nil {
		return nil, fmt.Errorf("buffer cache: %w", err)
	}
	return &Cached{inner: inner, lru: c}, nil
}

func (c *Cached) Buffer(ctx context.Context, req model.BufferRequest) (orb.Geometry, error) {
	if req.Geometry == nil {
		return c.inner.Buffer(ctx, req)
	}
	key := bufferKey(req)
	if g, ok := c.lru.Get(key); ok {
		return orb.Clone(g), nil
	}
	g, err := c.inner.Buffer(ctx, req)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, orb.Clone(g))
	return g, nil
}

func (c *Cached) Len() int { return c.lru.Len() }

func bufferKey(req model.BufferRequest) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(wkt.MarshalString(req.Geometry))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatFloat(req.Unit.Meters(req.Distance), 'g', -1, 64))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.Itoa(req.SpatialRef.WKID))
	return d.Sum64()
}
