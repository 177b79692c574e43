// Package web serves the lake selection form, the analysis API and plots.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/cache/resultstore"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geocode"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/mapper"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

type Resolver interface {
	Resolve(ctx context.Context, name string, outline bool) (model.WaterBody, error)
}

// ReportStore is the shared report cache (resultstore.Store).
type ReportStore interface {
	Get(ctx context.Context, key string) (*model.Report, bool, error)
	Put(ctx context.Context, key string, lake model.WaterBody, a config.Analysis, rep *model.Report) error
}

type Publisher interface {
	Publish(ctx context.Context, rep *model.Report) error
}

type Deps struct {
	Fetcher  imagery.Fetcher
	Resolver Resolver
	Mapper   mapper.Interface
	Res      int
	Analysis config.Analysis
	MemoSize int
	// RunTimeout bounds one shared analysis, which outlives the request
	// that started it.
	RunTimeout time.Duration
	Logger     *slog.Logger
	// optional
	Store     ReportStore
	Publisher Publisher
}

type Server struct {
	d     Deps
	log   *slog.Logger
	tmpl  *template.Template
	memo  *lru.Cache[string, *model.Report]
	group singleflight.Group
	// gen advances on Purge; runs started under an older generation are
	// returned to their callers but not cached.
	gen atomic.Uint64
}

func New(d Deps) (*Server, error) {
	if d.Fetcher == nil || d.Resolver == nil || d.Mapper == nil || d.Logger == nil {
		return nil, fmt.Errorf("%w: web needs fetcher, resolver, mapper and logger", model.ErrInvalidParameter)
	}
	if err := d.Analysis.Validate(); err != nil {
		return nil, err
	}
	if d.MemoSize <= 0 {
		d.MemoSize = 64
	}
	if d.RunTimeout <= 0 {
		d.RunTimeout = 9 * time.Minute
	}
	memo, err := lru.New[string, *model.Report](d.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("memo: %w", err)
	}
	tmpl, err := template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{d: d, log: d.Logger, tmpl: tmpl, memo: memo}, nil
}

// Purge forgets memoized reports; the invalidation runner calls it when
// new imagery arrives.
func (s *Server) Purge() {
	s.gen.Add(1)
	s.memo.Purge()
}

// analyze resolves the lake and returns its report from the memo, the
// shared store or a fresh pipeline run, in that order. Concurrent requests
// for one key share a run; each caller stops waiting when its own context
// ends without cancelling the others.
func (s *Server) analyze(ctx context.Context, req analysisRequest) (*model.Report, error) {
	lake, err := s.lake(ctx, req)
	if err != nil {
		return nil, err
	}
	key, err := resultstore.KeyFor(s.d.Mapper, s.d.Res, lake, req.Analysis)
	if err != nil {
		return nil, err
	}
	if rep, ok := s.memo.Get(key); ok {
		observability.IncResultCache("memo", true)
		return rep, nil
	}
	observability.IncResultCache("memo", false)

	gen := s.gen.Load()
	ch := s.group.DoChan(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.d.RunTimeout)
		defer cancel()
		return s.compute(rctx, key, gen, lake, req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.Report), nil
	}
}

func (s *Server) compute(ctx context.Context, key string, gen uint64, lake model.WaterBody, req analysisRequest) (*model.Report, error) {
	if s.d.Store != nil {
		rep, ok, err := s.d.Store.Get(ctx, key)
		if err != nil {
			s.log.WarnContext(ctx, "result store get failed", "key", key, "err", err)
		} else if ok {
			s.remember(key, gen, rep)
			return rep, nil
		}
	}
	an, err := pipeline.New(s.d.Fetcher, s.log, req.Analysis)
	if err != nil {
		return nil, err
	}
	rep, err := an.Run(ctx, lake)
	if err != nil {
		return nil, err
	}
	if s.remember(key, gen, rep) && s.d.Store != nil {
		if err := s.d.Store.Put(ctx, key, lake, req.Analysis, rep); err != nil {
			s.log.WarnContext(ctx, "result store put failed", "key", key, "err", err)
		}
	}
	if s.d.Publisher != nil {
		if err := s.d.Publisher.Publish(ctx, rep); err != nil {
			s.log.WarnContext(ctx, "publish trends failed", "lake", lake.Name, "err", err)
		}
	}
	return rep, nil
}

// remember memoizes rep unless a purge happened since the run started.
func (s *Server) remember(key string, gen uint64, rep *model.Report) bool {
	if s.gen.Load() != gen {
		s.log.Debug("dropping report computed before purge", "key", key)
		return false
	}
	s.memo.Add(key, rep)
	return true
}

func (s *Server) lake(ctx context.Context, req analysisRequest) (model.WaterBody, error) {
	if req.Point != nil {
		p := *req.Point
		return model.WaterBody{Name: req.Name, Point: &p, RadiusM: req.RadiusM}, nil
	}
	w, err := s.d.Resolver.Resolve(ctx, req.Name, req.Outline)
	if err != nil {
		return model.WaterBody{}, err
	}
	if req.RadiusM > 0 && !w.IsPolygon() {
		w.RadiusM = req.RadiusM
	}
	return w, nil
}

// status maps pipeline and lookup errors to HTTP codes.
func status(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidParameter), errors.Is(err, model.ErrInvalidGeometry):
		return http.StatusBadRequest
	case errors.Is(err, geocode.ErrNotFound), errors.Is(err, model.ErrInsufficientData):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDataFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
