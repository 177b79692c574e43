// Package trend fits an ordinary least squares line to an observation series.
package trend

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

const daysPerYear = 365.25

type Options struct {
	MinSamples int
	Unit       config.TimeUnit
	// Epoch anchors the day/year axis; zero means the first observation.
	Epoch time.Time
}

func OptionsFrom(cfg config.Trend, epoch time.Time) Options {
	return Options{MinSamples: cfg.MinSamples, Unit: cfg.Unit, Epoch: epoch}
}

// UnitLabel is the slope unit written to reports, e.g. "ndvi/day".
func UnitLabel(u config.TimeUnit) string {
	if u == "" {
		u = config.UnitDay
	}
	return "ndvi/" + string(u)
}

// Axis encodes observation dates as the regression's x values.
func Axis(obs []model.Observation, opts Options) []float64 {
	x := make([]float64, len(obs))
	if len(obs) == 0 {
		return x
	}
	epoch := opts.Epoch
	if epoch.IsZero() {
		epoch = obs[0].Date
	}
	for i, o := range obs {
		days := o.Date.Sub(epoch).Hours() / 24
		switch opts.Unit {
		case config.UnitAcquisition:
			x[i] = float64(i)
		case config.UnitYear:
			x[i] = days / daysPerYear
		default:
			x[i] = days
		}
	}
	return x
}

// Fit regresses Mean on the encoded date. Too few points fail with
// ErrInsufficientData and a series on a single date with ErrDegenerateInput,
// whatever the axis unit.
func Fit(obs []model.Observation, opts Options) (model.TrendResult, error) {
	// the slope standard error needs n-2 > 0
	minN := max(opts.MinSamples, 3)
	n := len(obs)
	if n < minN {
		return model.TrendResult{}, fmt.Errorf("%w: %d observations, need %d", model.ErrInsufficientData, n, minN)
	}

	x := Axis(obs, opts)
	y := make([]float64, n)
	first, last := obs[0].Date, obs[0].Date
	degenerate := true
	for i, o := range obs {
		y[i] = o.Mean
		if !o.Date.Equal(obs[0].Date) {
			degenerate = false
		}
		if o.Date.Before(first) {
			first = o.Date
		}
		if o.Date.After(last) {
			last = o.Date
		}
	}
	if degenerate {
		return model.TrendResult{}, fmt.Errorf("%w: all %d observations share one date", model.ErrDegenerateInput, n)
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)

	xm := stat.Mean(x, nil)
	var sxx, sse float64
	for i := range n {
		dx := x[i] - xm
		sxx += dx * dx
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
	}
	df := float64(n - 2)
	se := math.Sqrt(sse / df / sxx)

	p := 1.0
	switch {
	case se > 0:
		t := beta / se
		p = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
	case beta != 0:
		p = 0
	}

	r2 := 0.0
	if stat.Variance(y, nil) > 0 {
		r2 = math.Max(0, math.Min(1, stat.RSquared(x, y, nil, alpha, beta)))
	}

	return model.TrendResult{
		RingID:    obs[0].RingID,
		Season:    obs[0].Season,
		Slope:     beta,
		Intercept: alpha,
		StdErr:    se,
		PValue:    p,
		RSquared:  r2,
		N:         n,
		Unit:      UnitLabel(opts.Unit),
		First:     first,
		Last:      last,
	}, nil
}
