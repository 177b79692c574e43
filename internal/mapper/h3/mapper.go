package h3mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// Mapper is the H3 implementation of mapper.Interface.
type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// LakeCell is the cell containing a lake's anchor; it keys cached reports.
func (m *Mapper) LakeCell(p model.LatLng, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellsForLoop covers the area between an outer loop and an optional hole,
// e.g. one distance ring. Loops are open or closed lon/lat sequences.
func (m *Mapper) CellsForLoop(outer, hole []model.LatLng, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	o := fromLatLngs(outer)
	if len(o) < 3 {
		return nil, errors.New("outer loop has < 3 vertices")
	}
	var holes []h3.GeoLoop
	if h := fromLatLngs(hole); len(h) >= 3 {
		holes = append(holes, h)
	}
	cells, err := polyfillOne(o, holes, res)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		// ring narrower than a cell: fall back to the cells under its vertices
		seen := map[string]struct{}{}
		for _, p := range outer {
			c, err := m.LakeCell(p, res)
			if err != nil {
				return nil, err
			}
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				cells = append(cells, c)
			}
		}
		slices.Sort(cells)
	}
	return cells, nil
}

func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	outer := h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}
	return polyfillOne(outer, nil, res)
}

// footprint is a scene footprint as STAC items carry it: a Polygon, a
// MultiPolygon or a Feature wrapping either.
type footprint struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometry    *footprint      `json:"geometry"`
}

// polygons returns every part as [ring][vertex][lon,lat].
func (f footprint) polygons() ([][][][]float64, error) {
	switch f.Type {
	case "Feature":
		if f.Geometry == nil {
			return nil, errors.New("feature has no geometry")
		}
		return f.Geometry.polygons()
	case "Polygon":
		var p [][][]float64
		if err := json.Unmarshal(f.Coordinates, &p); err != nil {
			return nil, fmt.Errorf("parse polygon coords: %w", err)
		}
		return [][][][]float64{p}, nil
	case "MultiPolygon":
		var mp [][][][]float64
		if err := json.Unmarshal(f.Coordinates, &mp); err != nil {
			return nil, fmt.Errorf("parse multipolygon coords: %w", err)
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %q", f.Type)
	}
}

// CellsForPolygon covers every part of a GeoJSON footprint, holes excluded.
func (m *Mapper) CellsForPolygon(poly model.Polygon, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	var f footprint
	if err := json.Unmarshal([]byte(poly.GeoJSON), &f); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	parts, err := f.polygons()
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errors.New("footprint has no polygons")
	}
	var all []h3.Cell
	for i, rings := range parts {
		if len(rings) == 0 {
			return nil, fmt.Errorf("polygon %d is empty", i)
		}
		gp := h3.GeoPolygon{GeoLoop: toLoop(rings[0])}
		if len(gp.GeoLoop) < 3 {
			return nil, fmt.Errorf("polygon %d outer ring has < 3 distinct vertices", i)
		}
		for _, h := range rings[1:] {
			if hl := toLoop(h); len(hl) >= 3 {
				gp.Holes = append(gp.Holes, hl)
			}
		}
		cells, err := h3.PolygonToCells(gp, res)
		if err != nil {
			return nil, fmt.Errorf("h3 polyfill polygon %d: %w", i, err)
		}
		all = append(all, cells...)
	}
	return uniqueSorted(all), nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop converts [[lon,lat], ...] to an open h3.GeoLoop.
func toLoop(coords [][]float64) h3.GeoLoop {
	ll := make([]model.LatLng, 0, len(coords))
	for _, xy := range coords {
		if len(xy) < 2 {
			continue
		}
		ll = append(ll, model.LatLng{Lat: xy[1], Lng: xy[0]})
	}
	return fromLatLngs(ll)
}

func fromLatLngs(ll []model.LatLng) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(ll))
	for _, p := range ll {
		loop = append(loop, h3.LatLng{Lat: p.Lat, Lng: p.Lng})
	}
	if n := len(loop); n >= 2 && loop[0] == loop[n-1] {
		loop = loop[:n-1]
	}
	return loop
}

func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) (model.Cells, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 vertices")
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return uniqueSorted(cells), nil
}

func uniqueSorted(cells []h3.Cell) model.Cells {
	out := make(model.Cells, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	slices.Sort(out)
	return slices.Compact(out)
}
