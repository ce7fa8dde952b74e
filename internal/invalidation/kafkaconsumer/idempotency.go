package kafkaconsumer

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/nearby-search/internal/invalidation"
)

// versionDedupe remembers the newest event time applied per feature.
// Redelivered or replayed events for the same feature are skipped.
type versionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newVersionDedupe(size int) *versionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &versionDedupe{lru: c}
}

// dedupeKey is empty for events without a feature id; those always apply.
func dedupeKey(ev invalidation.Event) string {
	if ev.FeatureID == nil {
		return ""
	}
	return fmt.Sprintf("%s|%v", ev.Layer, ev.FeatureID)
}

// stale reports whether an event at v was already superseded.
func (d *versionDedupe) stale(key string, v int64) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return ok && v <= last
}

// applied records v once the event was applied.
func (d *versionDedupe) applied(key string, v int64) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && v <= last {
		return
	}
	d.lru.Add(key, v)
}
