// Package datasource runs spatial queries against feature layers.
package datasource

import (
	"context"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

// Source executes a spatial query. A query abandoned because ctx was
// canceled reports QueryResult.Canceled with a nil error; deadline expiry and
// upstream failures are errors.
type Source interface {
	ExecuteQuery(ctx context.Context, q model.SpatialQuery) (model.QueryResult, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q model.SpatialQuery) (model.QueryResult, error)

func (f SourceFunc) ExecuteQuery(ctx context.Context, q model.SpatialQuery) (model.QueryResult, error) {
	return f(ctx, q)
}
