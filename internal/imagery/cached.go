package imagery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
)

// Cached memoizes complete scene batches in process. Batches with failed
// scenes are returned but not stored, so transient errors are retried.
type Cached struct {
	next  Fetcher
	log   *slog.Logger
	lru   *lru.Cache[uint64, model.SceneBatch]
	group singleflight.Group
}

func NewCached(next Fetcher, size int, log *slog.Logger) *Cached {
	if size <= 0 {
		size = 32
	}
	c, _ := lru.New[uint64, model.SceneBatch](size)
	return &Cached{next: next, log: log, lru: c}
}

// QueryKey hashes the fields that select scenes.
func QueryKey(q model.SceneQuery) uint64 {
	assets := slices.Clone(q.Assets)
	slices.Sort(assets)
	s := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f|%s|%s|%s|%g|%s",
		q.BBox.X1, q.BBox.Y1, q.BBox.X2, q.BBox.Y2,
		q.Start.UTC().Format(time.DateOnly), q.End.UTC().Format(time.DateOnly),
		strings.ToLower(strings.TrimSpace(q.Collection)), q.MaxCloudCover,
		strings.Join(assets, ","))
	return xxhash.Sum64String(s)
}

func (c *Cached) Fetch(ctx context.Context, q model.SceneQuery) (model.SceneBatch, error) {
	k := QueryKey(q)
	if b, ok := c.lru.Get(k); ok {
		observability.IncResultCache("scenes", true)
		return b, nil
	}
	observability.IncResultCache("scenes", false)

	v, err, shared := c.group.Do(fmt.Sprintf("%016x", k), func() (any, error) {
		b, err := c.next.Fetch(ctx, q)
		if err != nil {
			return model.SceneBatch{}, err
		}
		if len(b.Failed) == 0 {
			c.lru.Add(k, b)
		}
		return b, nil
	})
	if err != nil {
		return model.SceneBatch{}, err
	}
	if shared {
		c.log.DebugContext(ctx, "scene fetch shared", "key", fmt.Sprintf("%016x", k))
	}
	return v.(model.SceneBatch), nil
}

// Purge drops every cached batch, e.g. after new imagery was ingested.
func (c *Cached) Purge() { c.lru.Purge() }

func (c *Cached) Len() int { return c.lru.Len() }
