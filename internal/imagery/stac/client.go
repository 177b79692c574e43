// Package stac loads Sentinel-2 scenes from a STAC API such as Planetary Computer.
package stac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
)

const (
	DefaultURL        = "https://planetarycomputer.microsoft.com/api/stac/v1"
	DefaultCollection = "sentinel-2-l2a"
	DefaultCloudCover = 25.0
)

type Config struct {
	URL     string
	SignURL string // empty disables asset signing
	RPS     float64
	Burst   int
	// PageSize is the search page limit; MaxItems caps a whole query.
	PageSize int
	MaxItems int
	// Parallel bounds concurrent scene downloads.
	Parallel int
	// MaxAssetBytes caps a whole-file download, used only when the server
	// ignores Range requests or the asset is not a tiled TIFF.
	MaxAssetBytes int64
}

type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	log      *slog.Logger
	limiter  *rate.Limiter
	startNow func() time.Time
}

var _ imagery.Fetcher = (*Client)(nil)

func New(cfg Config, hc *http.Client, log *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse stac url: %w", err)
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 1000
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	if cfg.MaxAssetBytes <= 0 {
		cfg.MaxAssetBytes = 512 << 20
	}
	if log == nil {
		log = logger.Discard()
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		cfg:      cfg,
		base:     u,
		http:     hc,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		startNow: time.Now,
	}, nil
}

// Fetch searches the catalog and loads the requested assets of every item,
// cropped to the query bbox. Items that fail to load are reported in Failed.
func (c *Client) Fetch(ctx context.Context, q model.SceneQuery) (model.SceneBatch, error) {
	if q.Collection == "" {
		q.Collection = DefaultCollection
	}
	if q.MaxCloudCover <= 0 {
		q.MaxCloudCover = DefaultCloudCover
	}
	items, err := c.Search(ctx, q)
	if err != nil {
		return model.SceneBatch{}, fmt.Errorf("%w: stac search: %w", model.ErrDataFetch, err)
	}
	c.log.InfoContext(ctx, "stac search done", "items", len(items), "collection", q.Collection)

	scenes := make([]*model.SceneSample, len(items))
	fails := make([]*model.SceneFailure, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallel)
	for i, it := range items {
		g.Go(func() error {
			s, err := c.loadScene(gctx, it, q)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				c.log.WarnContext(gctx, "scene load failed", "scene", it.ID, "err", err)
				fails[i] = &model.SceneFailure{ID: it.ID, Date: it.date(), Err: err}
				return nil
			}
			scenes[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.SceneBatch{}, err
	}

	var out model.SceneBatch
	for i := range items {
		if scenes[i] != nil {
			out.Scenes = append(out.Scenes, *scenes[i])
		}
		if fails[i] != nil {
			out.Failed = append(out.Failed, *fails[i])
		}
	}
	return out, nil
}

func (c *Client) endpoint(p string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	return u.String()
}
