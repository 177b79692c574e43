// Package resultstore caches finished lake reports in Redis and indexes them
// by the H3 cells their rings cover, so new imagery can evict them.
package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/cache"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/cache/keys"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geometry"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/mapper"
)

type Store struct {
	be     cache.Interface
	mapper mapper.Interface
	res    int
	ttl    time.Duration
	log    *slog.Logger
}

func New(be cache.Interface, m mapper.Interface, res int, ttl time.Duration, log *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{be: be, mapper: m, res: res, ttl: ttl, log: log}
}

func (s *Store) Res() int { return s.res }

// Key identifies the report of lake under analysis a.
func (s *Store) Key(lake model.WaterBody, a config.Analysis) (string, error) {
	return KeyFor(s.mapper, s.res, lake, a)
}

// KeyFor derives a report key without a store, e.g. for in-process memos.
func KeyFor(m mapper.Interface, res int, lake model.WaterBody, a config.Analysis) (string, error) {
	anchor, ok := lake.Anchor()
	if !ok {
		return "", fmt.Errorf("%w: lake %q has neither point nor outline", model.ErrInvalidGeometry, lake.Name)
	}
	cell, err := m.LakeCell(anchor, res)
	if err != nil {
		return "", fmt.Errorf("%w: lake cell: %w", model.ErrInvalidGeometry, err)
	}
	return keys.AnalysisKey(cell, lake, a), nil
}

// Get returns the cached report for key, if any.
func (s *Store) Get(ctx context.Context, key string) (*model.Report, bool, error) {
	raw, err := s.be.MGet(ctx, []string{key})
	if err != nil {
		return nil, false, fmt.Errorf("resultstore get: %w", err)
	}
	b, ok := raw[key]
	observability.IncResultCache("redis", ok)
	if !ok || len(b) == 0 {
		return nil, false, nil
	}
	var rep model.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		// unreadable entries are treated as misses and overwritten by the next put
		s.log.WarnContext(ctx, "cached report undecodable", "key", key, "err", err)
		return nil, false, nil
	}
	return &rep, true, nil
}

// Put stores rep under key and adds key to the index of every cell covered
// by the lake's outermost ring.
func (s *Store) Put(ctx context.Context, key string, lake model.WaterBody, a config.Analysis, rep *model.Report) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("resultstore encode: %w", err)
	}
	cells, err := s.Footprint(lake, a.Rings)
	if err != nil {
		return err
	}
	if err := s.be.Set(ctx, key, b, s.ttl); err != nil {
		return fmt.Errorf("resultstore put: %w", err)
	}
	for _, c := range cells {
		if err := s.be.SAdd(ctx, keys.CellIndexKey(c), s.ttl, key); err != nil {
			return fmt.Errorf("resultstore index %s: %w", c, err)
		}
	}
	s.log.DebugContext(ctx, "report cached", "key", key, "cells", len(cells))
	return nil
}

// Footprint is the set of cells under the lake and all its rings.
func (s *Store) Footprint(lake model.WaterBody, rings config.Rings) (model.Cells, error) {
	anchor, ok := lake.Anchor()
	if !ok {
		return nil, fmt.Errorf("%w: lake %q has neither point nor outline", model.ErrInvalidGeometry, lake.Name)
	}
	home, err := s.mapper.LakeCell(anchor, s.res)
	if err != nil {
		return nil, fmt.Errorf("%w: lake cell: %w", model.ErrInvalidGeometry, err)
	}
	rs, err := geometry.Build(lake, rings)
	if err != nil {
		return nil, err
	}
	cover, err := s.mapper.CellsForLoop(rs.LoopLatLng(rs.Len()-1), nil, s.res)
	if err != nil {
		return nil, fmt.Errorf("ring cover: %w", err)
	}
	for _, c := range cover {
		if c == home {
			return cover, nil
		}
	}
	return append(cover, home), nil
}

// Invalidate drops every report indexed under cells and returns how many
// report keys were removed.
func (s *Store) Invalidate(ctx context.Context, cells model.Cells) (int, error) {
	seen := map[string]struct{}{}
	var drop []string
	for _, c := range cells {
		idx := keys.CellIndexKey(c)
		members, err := s.be.SMembers(ctx, idx)
		if err != nil {
			return 0, fmt.Errorf("resultstore invalidate %s: %w", c, err)
		}
		if len(members) == 0 {
			continue
		}
		drop = append(drop, idx)
		for _, m := range members {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				drop = append(drop, m)
			}
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	if err := s.be.Del(ctx, drop...); err != nil {
		return 0, fmt.Errorf("resultstore invalidate: %w", err)
	}
	observability.AddInvalidatedKeys(len(seen))
	return len(seen), nil
}
