// Package aggregate reduces an index raster to one mean per distance ring.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// Locator maps a position in the raster's CRS to the ring owning it.
type Locator interface {
	Locate(x, y float64) (int, bool)
}

type RingMean struct {
	RingID int
	Mean   float64
	Pixels int
}

// Sparse is a ring that had fewer valid pixels than the configured minimum.
type Sparse struct {
	RingID int
	Pixels int
}

type Result struct {
	Means  []RingMean
	Sparse []Sparse
}

// Rings attributes every unmasked pixel center to its ring and averages per
// ring. Rings below cfg.MinPixels are reported as sparse instead of averaged.
func Rings(ir model.IndexRaster, loc Locator, ringCount int, cfg config.Aggregate) Result {
	means := make([]float64, ringCount)
	counts := make([]int, ringCount)

	for row := range ir.Height {
		for col := range ir.Width {
			v := ir.Values[row*ir.Width+col]
			if math.IsNaN(v) {
				continue
			}
			x, y := ir.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			id, ok := loc.Locate(x, y)
			if !ok || id < 0 || id >= ringCount {
				continue
			}
			// running mean keeps a uniform raster exact
			counts[id]++
			means[id] += (v - means[id]) / float64(counts[id])
		}
	}

	var res Result
	for id := range ringCount {
		if counts[id] < cfg.MinPixels {
			res.Sparse = append(res.Sparse, Sparse{RingID: id, Pixels: counts[id]})
			continue
		}
		res.Means = append(res.Means, RingMean{RingID: id, Mean: means[id], Pixels: counts[id]})
	}
	return res
}

// Observations converts the ring means of one acquisition into observations.
func (r Result) Observations(date time.Time) []model.Observation {
	out := make([]model.Observation, 0, len(r.Means))
	for _, m := range r.Means {
		out = append(out, model.Observation{RingID: m.RingID, Date: date, Mean: m.Mean, Pixels: m.Pixels})
	}
	return out
}

type dayKey struct {
	ring       int
	year, yday int
}

// Merge collapses observations of the same ring on the same UTC day, as
// produced by overlapping tiles of one pass, into a single pixel-weighted
// mean. The earliest timestamp of the day is kept. Output is sorted by date
// then ring.
func Merge(obs []model.Observation) []model.Observation {
	idx := make(map[dayKey]int, len(obs))
	out := make([]model.Observation, 0, len(obs))
	for _, o := range obs {
		d := o.Date.UTC()
		k := dayKey{ring: o.RingID, year: d.Year(), yday: d.YearDay()}
		i, ok := idx[k]
		if !ok {
			idx[k] = len(out)
			out = append(out, o)
			continue
		}
		m := &out[i]
		total := m.Pixels + o.Pixels
		if total > 0 {
			m.Mean = (m.Mean*float64(m.Pixels) + o.Mean*float64(o.Pixels)) / float64(total)
		}
		m.Pixels = total
		if o.Date.Before(m.Date) {
			m.Date = o.Date
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].RingID < out[j].RingID
	})
	return out
}
