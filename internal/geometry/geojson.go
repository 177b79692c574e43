package geometry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

type geoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometry    *geoJSON        `json:"geometry"`
	Features    []geoJSON       `json:"features"`
}

// ParseOutline reads a lake outline from GeoJSON. It accepts a Polygon, a
// MultiPolygon (largest part wins), a Feature or a FeatureCollection (first
// polygonal feature). Holes are ignored.
func ParseOutline(raw []byte) ([]model.LatLng, error) {
	var g geoJSON
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: parse geojson: %v", model.ErrInvalidGeometry, err)
	}
	return outlineOf(g)
}

func outlineOf(g geoJSON) ([]model.LatLng, error) {
	switch g.Type {
	case "Feature":
		if g.Geometry == nil {
			return nil, fmt.Errorf("%w: feature has no geometry", model.ErrInvalidGeometry)
		}
		return outlineOf(*g.Geometry)
	case "FeatureCollection":
		for _, f := range g.Features {
			if out, err := outlineOf(f); err == nil {
				return out, nil
			}
		}
		return nil, fmt.Errorf("%w: no polygon feature in collection", model.ErrInvalidGeometry)
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("%w: parse polygon coords: %v", model.ErrInvalidGeometry, err)
		}
		if len(rings) == 0 {
			return nil, fmt.Errorf("%w: empty polygon", model.ErrInvalidGeometry)
		}
		return toLatLngs(rings[0])
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("%w: parse multipolygon coords: %v", model.ErrInvalidGeometry, err)
		}
		var best []model.LatLng
		bestArea := -1.0
		for _, p := range polys {
			if len(p) == 0 {
				continue
			}
			ll, err := toLatLngs(p[0])
			if err != nil {
				return nil, err
			}
			if a := degreeArea(ll); a > bestArea {
				best, bestArea = ll, a
			}
		}
		if best == nil {
			return nil, fmt.Errorf("%w: empty multipolygon", model.ErrInvalidGeometry)
		}
		return best, nil
	default:
		return nil, fmt.Errorf("%w: unsupported GeoJSON type %q", model.ErrInvalidGeometry, g.Type)
	}
}

func toLatLngs(coords [][]float64) ([]model.LatLng, error) {
	out := make([]model.LatLng, 0, len(coords))
	for i, xy := range coords {
		if len(xy) < 2 {
			return nil, fmt.Errorf("%w: position %d has %d values", model.ErrInvalidGeometry, i, len(xy))
		}
		out = append(out, model.LatLng{Lat: xy[1], Lng: xy[0]})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty ring", model.ErrInvalidGeometry)
	}
	return out, nil
}

// degreeArea ranks multipolygon parts by their area on the sphere.
func degreeArea(ll []model.LatLng) float64 {
	r := make(orb.Ring, 0, len(ll)+1)
	for _, p := range ll {
		r = append(r, orb.Point{p.Lng, p.Lat})
	}
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return math.Abs(geo.Area(r))
}
