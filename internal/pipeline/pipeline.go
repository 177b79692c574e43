// Package pipeline runs the ring trend analysis for one or many lakes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/aggregate"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geometry"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/index"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/season"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/trend"
)

// Stage names reported to Progress callbacks and the stage histogram.
const (
	StageRings  = "rings"
	StageFetch  = "fetch"
	StageIndex  = "index"
	StageFit    = "fit"
	StageFinish = "done"
)

type Progress struct {
	Lake  string
	Stage string
	Done  int
	Total int
}

type Option func(*Analyzer)

// WithProgress registers a callback invoked as the run advances.
func WithProgress(fn func(Progress)) Option {
	return func(a *Analyzer) { a.progress = fn }
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

type Analyzer struct {
	fetch    imagery.Fetcher
	log      *slog.Logger
	cfg      config.Analysis
	progress func(Progress)
	now      func() time.Time
}

func New(fetch imagery.Fetcher, log *slog.Logger, cfg config.Analysis, opts ...Option) (*Analyzer, error) {
	if fetch == nil {
		return nil, fmt.Errorf("%w: fetcher is required", model.ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	a := &Analyzer{fetch: fetch, log: log, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *Analyzer) Config() config.Analysis { return a.cfg }

func (a *Analyzer) report(lake, stage string, done, total int) {
	if a.progress != nil {
		a.progress(Progress{Lake: lake, Stage: stage, Done: done, Total: total})
	}
}

func observeStage(stage string, start time.Time) {
	observability.ObserveStage(stage, time.Since(start).Seconds())
}

// Run analyses one lake. Geometry and parameter errors abort the run; fit
// errors skip only their (ring, season) pair; scene errors drop the scene.
func (a *Analyzer) Run(ctx context.Context, lake model.WaterBody) (*model.Report, error) {
	rep, err := a.run(ctx, lake)
	outcome := model.Reason(err)
	if ctx.Err() != nil {
		outcome = "canceled"
	}
	observability.IncRun(outcome)
	return rep, err
}

func (a *Analyzer) run(ctx context.Context, lake model.WaterBody) (*model.Report, error) {
	rep := &model.Report{
		RunID:     uuid.NewString(),
		Lake:      lake,
		Unit:      trend.UnitLabel(a.cfg.Trend.Unit),
		StartedAt: a.now().UTC(),
	}
	ctx = logger.WithRunID(ctx, rep.RunID)
	ctx = logger.WithLake(ctx, lake.Name)

	start := time.Now()
	rings, err := geometry.Build(lake, a.cfg.Rings)
	if err != nil {
		return nil, fmt.Errorf("build rings for %q: %w", lake.Name, err)
	}
	observeStage(StageRings, start)
	rep.CRS = rings.CRS()
	rep.Rings = rings.Rings
	a.log.InfoContext(ctx, "rings built", "rings", rings.Len(), "crs", rep.CRS)
	a.report(lake.Name, StageRings, rings.Len(), rings.Len())

	start = time.Now()
	batch, err := a.fetch.Fetch(ctx, a.query(rings))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, model.ErrDataFetch) {
			err = fmt.Errorf("%w: %w", model.ErrDataFetch, err)
		}
		return nil, fmt.Errorf("fetch scenes for %q: %w", lake.Name, err)
	}
	observeStage(StageFetch, start)
	for _, f := range batch.Failed {
		rep.DroppedScenes = append(rep.DroppedScenes, model.DroppedScene{
			ID: f.ID, Date: f.Date, Reason: "data_fetch", Detail: errString(f.Err),
		})
	}
	a.log.InfoContext(ctx, "scenes fetched", "scenes", len(batch.Scenes), "failed", len(batch.Failed))
	a.report(lake.Name, StageFetch, len(batch.Scenes), len(batch.Scenes)+len(batch.Failed))

	start = time.Now()
	obs, err := a.observe(ctx, lake, rings, batch.Scenes, rep)
	if err != nil {
		return nil, err
	}
	observeStage(StageIndex, start)
	observability.AddScenes("used", rep.ScenesUsed)
	observability.AddScenes("dropped", len(rep.DroppedScenes))
	if rep.ScenesUsed == 0 {
		return nil, fmt.Errorf("%w: no usable scenes for %q (%d dropped)", model.ErrDataFetch, lake.Name, len(rep.DroppedScenes))
	}

	start = time.Now()
	if err := a.fit(ctx, rings, obs, rep); err != nil {
		return nil, err
	}
	observeStage(StageFit, start)

	rep.FinishedAt = a.now().UTC()
	a.log.InfoContext(ctx, "run finished",
		"results", len(rep.Results),
		"skipped", len(rep.Skipped),
		"scenes_used", rep.ScenesUsed,
		"scenes_dropped", len(rep.DroppedScenes),
		"off_season", rep.OffSeason)
	a.report(lake.Name, StageFinish, 1, 1)
	return rep, nil
}

func (a *Analyzer) query(rings *geometry.RingSet) model.SceneQuery {
	assets := []string{a.cfg.Index.RedBand, a.cfg.Index.NIRBand}
	if a.cfg.Index.QualityBand != "" {
		assets = append(assets, a.cfg.Index.QualityBand)
	}
	return model.SceneQuery{
		BBox:          rings.BBox(a.cfg.Fetch.MarginM),
		Start:         a.cfg.Fetch.Start,
		End:           a.cfg.Fetch.End,
		Collection:    a.cfg.Fetch.Collection,
		MaxCloudCover: a.cfg.Fetch.MaxCloudCover,
		Assets:        assets,
	}
}

// observe turns scenes into date-sorted ring observations, one per ring and
// day. Rings are rebuilt once per scene CRS when a scene is not in the lake's
// own zone.
func (a *Analyzer) observe(ctx context.Context, lake model.WaterBody, rings *geometry.RingSet, scenes []model.SceneSample, rep *model.Report) ([]model.Observation, error) {
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Date.Before(scenes[j].Date) })
	byCRS := map[int]*geometry.RingSet{rings.CRS(): rings}

	drop := func(s model.SceneSample, err error) {
		a.log.WarnContext(ctx, "scene dropped", "scene", s.ID, "err", err)
		rep.DroppedScenes = append(rep.DroppedScenes, model.DroppedScene{
			ID: s.ID, Date: s.Date, Reason: model.Reason(err), Detail: err.Error(),
		})
	}

	var obs []model.Observation
	for i, s := range scenes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loc, ok := byCRS[s.CRS]
		if !ok {
			rs, err := geometry.BuildInCRS(lake, a.cfg.Rings, s.CRS)
			if err != nil {
				drop(s, err)
				continue
			}
			byCRS[s.CRS], loc = rs, rs
		}
		ir, err := index.NDVI(s, a.cfg.Index)
		if err != nil {
			drop(s, err)
			continue
		}
		res := aggregate.Rings(ir, loc, loc.Len(), a.cfg.Aggregate)
		for _, sp := range res.Sparse {
			a.log.DebugContext(ctx, "sparse ring", "scene", s.ID, "ring", sp.RingID, "pixels", sp.Pixels)
		}
		obs = append(obs, res.Observations(s.Date)...)
		rep.ScenesUsed++
		a.report(lake.Name, StageIndex, i+1, len(scenes))
	}
	merged := aggregate.Merge(obs)
	if n := len(obs) - len(merged); n > 0 {
		a.log.DebugContext(ctx, "same-day observations merged", "merged", n)
	}
	return merged, nil
}

// fit splits every ring series by season and fits each (ring, season) pair
// against one run-wide epoch.
func (a *Analyzer) fit(ctx context.Context, rings *geometry.RingSet, obs []model.Observation, rep *model.Report) error {
	var epoch time.Time
	if len(obs) > 0 {
		epoch = obs[0].Date
	}
	opts := trend.OptionsFrom(a.cfg.Trend, epoch)

	perRing := make([][]model.Observation, rings.Len())
	for _, o := range obs {
		perRing[o.RingID] = append(perRing[o.RingID], o)
	}

	var labelled []model.Observation
	total := rings.Len() * len(season.Seasons)
	done := 0
	for _, ring := range rings.Rings {
		if err := ctx.Err(); err != nil {
			return err
		}
		sp, err := season.Partition(perRing[ring.ID], a.cfg.Seasons)
		if err != nil {
			return err
		}
		rep.OffSeason += len(sp.Dropped)
		if len(sp.Dropped) > 0 {
			a.log.InfoContext(ctx, "off-season observations dropped", "ring", ring.ID, "count", len(sp.Dropped))
		}
		labelled = append(labelled, sp.Dry...)
		labelled = append(labelled, sp.Monsoon...)
		labelled = append(labelled, sp.Dropped...)

		for _, s := range season.Seasons {
			tr, err := trend.Fit(sp.Of(s), opts)
			done++
			a.report(rep.Lake.Name, StageFit, done, total)
			if err != nil {
				if !errors.Is(err, model.ErrInsufficientData) && !errors.Is(err, model.ErrDegenerateInput) {
					return err
				}
				reason := model.Reason(err)
				observability.IncTrendPair(string(s), reason)
				a.log.InfoContext(ctx, "trend skipped", "ring", ring.ID, "season", string(s), "reason", reason)
				rep.Skipped = append(rep.Skipped, model.Skip{RingID: ring.ID, Season: s, Reason: reason, Detail: err.Error()})
				continue
			}
			observability.IncTrendPair(string(s), "fitted")
			tr.RingID, tr.Season = ring.ID, s
			tr.InnerM, tr.OuterM = ring.InnerM, ring.OuterM
			rep.Results = append(rep.Results, tr)
		}
	}
	sort.SliceStable(labelled, func(i, j int) bool {
		if !labelled[i].Date.Equal(labelled[j].Date) {
			return labelled[i].Date.Before(labelled[j].Date)
		}
		return labelled[i].RingID < labelled[j].RingID
	})
	rep.Observations = labelled
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
