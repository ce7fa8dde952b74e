// Package cellindex maps H3 cells to the cached queries whose search area
// covers them, so a feature change can find the entries it makes stale.
package cellindex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mohammed-shakir/nearby-search/internal/cache/keys"
)

type CellIndex interface {
	Register(ctx context.Context, layer string, res int, cells []string, queryKey string, ttl time.Duration) error

	Lookup(ctx context.Context, layer string, res int, cells []string) ([]string, error)
}

// SetStore is the subset of redisstore.Client the index needs.
type SetStore interface {
	SAddWithTTL(ctx context.Context, keys []string, member string, ttl time.Duration) error
	SUnion(ctx context.Context, keys ...string) ([]string, error)
}

type redisCellIndex struct {
	cli SetStore
}

func NewRedisIndex(cli SetStore) CellIndex {
	return &redisCellIndex{cli: cli}
}

func (ci *redisCellIndex) Register(
	ctx context.Context,
	layer string,
	res int,
	cells []string,
	queryKey string,
	ttl time.Duration,
) error {
	if len(cells) == 0 {
		return nil
	}
	if err := ci.cli.SAddWithTTL(ctx, indexKeys(layer, res, cells), queryKey, ttl); err != nil {
		return fmt.Errorf("cellindex register %d cells: %w", len(cells), err)
	}
	return nil
}

// Lookup returns the sorted query keys registered under any of cells.
func (ci *redisCellIndex) Lookup(
	ctx context.Context,
	layer string,
	res int,
	cells []string,
) ([]string, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	members, err := ci.cli.SUnion(ctx, indexKeys(layer, res, cells)...)
	if err != nil {
		return nil, fmt.Errorf("cellindex lookup %d cells: %w", len(cells), err)
	}
	sort.Strings(members)
	return members, nil
}

func indexKeys(layer string, res int, cells []string) []string {
	out := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		k := keys.CellIndexKey(layer, res, c)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
