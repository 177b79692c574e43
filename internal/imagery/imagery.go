// Package imagery defines the scene fetching capability the pipeline depends on.
package imagery

import (
	"context"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// Fetcher loads the scenes matching a query. Scenes that fail individually
// are listed in SceneBatch.Failed; a failure of the whole query is returned
// as an error wrapping model.ErrDataFetch.
type Fetcher interface {
	Fetch(ctx context.Context, q model.SceneQuery) (model.SceneBatch, error)
}

type FetcherFunc func(ctx context.Context, q model.SceneQuery) (model.SceneBatch, error)

func (f FetcherFunc) Fetch(ctx context.Context, q model.SceneQuery) (model.SceneBatch, error) {
	return f(ctx, q)
}
