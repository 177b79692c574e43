// Package kafka consumes scene-ingest events and evicts the cached reports
// of lakes whose footprint the new imagery touches.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/invalidation"
)

// Invalidator drops cached reports indexed under cells at resolution Res.
type Invalidator interface {
	Invalidate(ctx context.Context, cells model.Cells) (int, error)
	Res() int
}

// Purger drops in-process caches (fetched scenes, memoized reports) that
// cannot be evicted by cell.
type Purger interface {
	Purge()
}

type Mapper interface {
	CellsForBBox(bbox model.BBox, res int) (model.Cells, error)
	CellsForPolygon(poly model.Polygon, res int) (model.Cells, error)
	AtRes(cells []string, res int) (model.Cells, error)
}

type Runner struct {
	log      *slog.Logger
	cfg      Config
	store    Invalidator
	mapper   Mapper
	purgers  []Purger
	ms       *metricSet
	ver      *appliedVersions
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	Purgers  []Purger
}

func New(cfg Config, store Invalidator, m Mapper, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:     opts.Logger,
		cfg:     cfg,
		store:   store,
		mapper:  m,
		purgers: opts.Purgers,
		ms:      newMetricSet(opts.Register),
		ver:     newAppliedVersions(8192),
		assign:  map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.store == nil || r.mapper == nil {
		return errors.New("kafka runner: result store and mapper are required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage applies one event. Malformed events are counted and
// skipped so one bad message cannot stall the partition.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.ms.msgs.WithLabelValues("invalid").Inc()
		r.log.WarnContext(ctx, "undecodable ingest event", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		r.ms.msgs.WithLabelValues("invalid").Inc()
		r.log.WarnContext(ctx, "invalid ingest event", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	key := ev.DedupeKey()
	if r.ver.stale(key, ev.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		r.observe(ev.Op, nil, time.Since(start))
		return nil
	}

	err := r.apply(ctx, ev)
	r.observe(ev.Op, err, time.Since(start))
	if err == nil {
		r.ver.record(key, ev.Version)
		observability.SetCollectionInvalidatedAt(ev.Collection, ev.TS.Unix())
	}
	return err
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}

func (r *Runner) apply(ctx context.Context, ev invalidation.Event) error {
	cells, err := r.cells(ev)
	if err != nil {
		return err
	}
	for _, p := range r.purgers {
		p.Purge()
		r.ms.apply.WithLabelValues("purge").Inc()
	}
	if len(cells) == 0 {
		return nil
	}
	n, err := r.store.Invalidate(ctx, cells)
	if err != nil {
		return fmt.Errorf("invalidate %d cells: %w", len(cells), err)
	}
	r.ms.apply.WithLabelValues("delete").Add(float64(n))
	r.log.InfoContext(ctx, "reports invalidated",
		"collection", ev.Collection, "op", ev.Op, "scene_id", ev.SceneID, "cells", len(cells), "reports", n)
	return nil
}

// cells maps the event footprint onto the store's resolution.
func (r *Runner) cells(ev invalidation.Event) (model.Cells, error) {
	res := r.store.Res()
	switch {
	case ev.BBox != nil:
		b := model.BBox{X1: ev.BBox.X1, Y1: ev.BBox.Y1, X2: ev.BBox.X2, Y2: ev.BBox.Y2, SRID: ev.BBox.SRID}
		c, err := r.mapper.CellsForBBox(b, res)
		if err != nil {
			return nil, fmt.Errorf("CellsForBBox: %w", err)
		}
		return c, nil
	case len(ev.Geometry) > 0:
		c, err := r.mapper.CellsForPolygon(model.Polygon{GeoJSON: string(ev.Geometry)}, res)
		if err != nil {
			return nil, fmt.Errorf("CellsForPolygon: %w", err)
		}
		return c, nil
	}

	c, err := r.mapper.AtRes(ev.H3Cells, res)
	if err != nil {
		return nil, fmt.Errorf("map cells to res %d: %w", res, err)
	}
	return c, nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
