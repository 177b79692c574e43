package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

type TimeUnit string

const (
	UnitDay         TimeUnit = "day"
	UnitYear        TimeUnit = "year"
	UnitAcquisition TimeUnit = "acquisition"
)

type Rings struct {
	Breakpoints []float64 // meters from the water edge
	InnerDisk   bool      // add (0, Breakpoints[0]] as the innermost ring
	Segments    int       // vertices per circular loop
}

type Seasons struct {
	Dry     []time.Month
	Monsoon []time.Month
}

type Index struct {
	RedBand      string
	NIRBand      string
	QualityBand  string
	ClearClasses []int
	Epsilon      float64
}

type Aggregate struct {
	MinPixels int
}

type Trend struct {
	MinSamples int
	Unit       TimeUnit
}

type Fetch struct {
	Collection    string
	Start, End    time.Time
	MaxCloudCover float64
	MarginM       float64
}

// Analysis is the full parameter set of one pipeline run.
type Analysis struct {
	Rings     Rings
	Seasons   Seasons
	Index     Index
	Aggregate Aggregate
	Trend     Trend
	Fetch     Fetch
}

func DefaultAnalysis() Analysis {
	return Analysis{
		Rings: Rings{
			Breakpoints: []float64{100, 500, 1000, 2000, 3000, 5000},
			Segments:    64,
		},
		Seasons: Seasons{
			Dry:     []time.Month{time.January, time.February, time.March, time.April},
			Monsoon: []time.Month{time.July, time.August, time.September, time.October},
		},
		Index: Index{
			RedBand:      "B04",
			NIRBand:      "B08",
			QualityBand:  "SCL",
			ClearClasses: []int{2, 4, 5, 6, 7, 11},
			Epsilon:      1e-9,
		},
		Aggregate: Aggregate{MinPixels: 10},
		Trend:     Trend{MinSamples: 3, Unit: UnitDay},
		Fetch: Fetch{
			Collection:    "sentinel-2-l2a",
			Start:         time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
			End:           time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			MaxCloudCover: 25,
			MarginM:       200,
		},
	}
}

func (a Analysis) Validate() error {
	return errors.Join(
		a.Rings.Validate(),
		a.Seasons.Validate(),
		a.Index.Validate(),
		a.Aggregate.Validate(),
		a.Trend.Validate(),
		a.Fetch.Validate(),
	)
}

func (r Rings) Validate() error {
	bp := r.Breakpoints
	if len(bp) == 0 || (len(bp) < 2 && !r.InnerDisk) {
		return fmt.Errorf("%w: need at least two breakpoints (or one with inner disk), got %d",
			model.ErrInvalidParameter, len(bp))
	}
	for i, b := range bp {
		if math.IsNaN(b) || math.IsInf(b, 0) || b <= 0 {
			return fmt.Errorf("%w: breakpoint %d must be positive and finite, got %v",
				model.ErrInvalidParameter, i, b)
		}
		if i > 0 && b <= bp[i-1] {
			return fmt.Errorf("%w: breakpoints must be strictly increasing (%v after %v)",
				model.ErrInvalidParameter, b, bp[i-1])
		}
	}
	if r.Segments != 0 && r.Segments < 8 {
		return fmt.Errorf("%w: ring segments must be >= 8, got %d", model.ErrInvalidParameter, r.Segments)
	}
	return nil
}

func (s Seasons) Validate() error {
	if len(s.Dry) == 0 || len(s.Monsoon) == 0 {
		return fmt.Errorf("%w: dry and monsoon month sets must be non-empty", model.ErrInvalidParameter)
	}
	seen := map[time.Month]string{}
	for name, set := range map[string][]time.Month{"dry": s.Dry, "monsoon": s.Monsoon} {
		for _, m := range set {
			if m < time.January || m > time.December {
				return fmt.Errorf("%w: %s month %d out of range 1..12", model.ErrInvalidParameter, name, m)
			}
			if other, ok := seen[m]; ok && other != name {
				return fmt.Errorf("%w: month %d is in both dry and monsoon", model.ErrInvalidParameter, m)
			}
			seen[m] = name
		}
	}
	return nil
}

// Of returns the season a month belongs to, or SeasonNone.
func (s Seasons) Of(m time.Month) model.Season {
	switch {
	case slices.Contains(s.Dry, m):
		return model.SeasonDry
	case slices.Contains(s.Monsoon, m):
		return model.SeasonMonsoon
	default:
		return model.SeasonNone
	}
}

func (ix Index) Validate() error {
	if strings.TrimSpace(ix.RedBand) == "" || strings.TrimSpace(ix.NIRBand) == "" {
		return fmt.Errorf("%w: red and nir band names are required", model.ErrInvalidParameter)
	}
	if ix.Epsilon < 0 {
		return fmt.Errorf("%w: epsilon must be >= 0", model.ErrInvalidParameter)
	}
	return nil
}

func (ag Aggregate) Validate() error {
	if ag.MinPixels < 1 {
		return fmt.Errorf("%w: min pixels must be >= 1, got %d", model.ErrInvalidParameter, ag.MinPixels)
	}
	return nil
}

func (t Trend) Validate() error {
	// n-2 degrees of freedom are needed for the slope standard error
	if t.MinSamples < 3 {
		return fmt.Errorf("%w: min samples must be >= 3, got %d", model.ErrInvalidParameter, t.MinSamples)
	}
	switch t.Unit {
	case UnitDay, UnitYear, UnitAcquisition:
	default:
		return fmt.Errorf("%w: time unit must be day|year|acquisition, got %q", model.ErrInvalidParameter, t.Unit)
	}
	return nil
}

func (f Fetch) Validate() error {
	if strings.TrimSpace(f.Collection) == "" {
		return fmt.Errorf("%w: collection is required", model.ErrInvalidParameter)
	}
	if f.Start.IsZero() || f.End.IsZero() || !f.End.After(f.Start) {
		return fmt.Errorf("%w: date range must satisfy start < end", model.ErrInvalidParameter)
	}
	if f.MaxCloudCover <= 0 || f.MaxCloudCover > 100 {
		return fmt.Errorf("%w: max cloud cover must be in (0,100], got %v", model.ErrInvalidParameter, f.MaxCloudCover)
	}
	if f.MarginM < 0 {
		return fmt.Errorf("%w: fetch margin must be >= 0", model.ErrInvalidParameter)
	}
	return nil
}

// ParseBreakpoints parses "100,500,1000" into meters.
func ParseBreakpoints(s string) ([]float64, error) {
	var out []float64
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: breakpoint %q: %v", model.ErrInvalidParameter, p, err)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no breakpoints in %q", model.ErrInvalidParameter, s)
	}
	return out, nil
}

// ParseMonths parses "1,2,3,4" into months; range is checked by Seasons.Validate.
func ParseMonths(s string) ([]time.Month, error) {
	var out []time.Month
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: month %q: %v", model.ErrInvalidParameter, p, err)
		}
		out = append(out, time.Month(n))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no months in %q", model.ErrInvalidParameter, s)
	}
	return out, nil
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", model.ErrInvalidParameter, s, err)
	}
	return d, nil
}
