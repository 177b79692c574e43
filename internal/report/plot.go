package report

import (
	"cmp"
	"fmt"
	"image/color"
	"io"
	"slices"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/season"
)

// DefaultContrastBufferM is the ring distance compared by the seasonal plot.
const DefaultContrastBufferM = 1000

var seasonColors = map[model.Season]color.Color{
	model.SeasonDry:     color.RGBA{R: 244, G: 164, B: 96, A: 255},  // sandybrown
	model.SeasonMonsoon: color.RGBA{R: 135, G: 206, B: 235, A: 255}, // skyblue
}

func SeasonLabel(s model.Season) string {
	switch s {
	case model.SeasonDry:
		return "Dry Season"
	case model.SeasonMonsoon:
		return "Monsoon Season"
	default:
		return "Off Season"
	}
}

// ParseFormat accepts the image formats the plots render to.
func ParseFormat(s string) (string, error) {
	f := strings.ToLower(strings.TrimPrefix(s, "."))
	switch f {
	case "svg", "png":
		return f, nil
	}
	return "", fmt.Errorf("%w: plot format %q", model.ErrInvalidParameter, s)
}

func ContentType(format string) string {
	if format == "png" {
		return "image/png"
	}
	return "image/svg+xml"
}

func slopeAxisLabel(unit string) string {
	if unit == "" {
		return "NDVI slope"
	}
	return "NDVI slope (" + unit + ")"
}

func dashed(l *plotter.Grid) {
	l.Horizontal.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	l.Vertical.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
}

// slopeErrors pairs slope points with their standard errors.
type slopeErrors struct {
	plotter.XYs
	se []float64
}

func (s slopeErrors) YError(i int) (float64, float64) { return s.se[i], s.se[i] }

// DistanceDecayPlot draws slope against ring outer distance, one line per season.
func DistanceDecayPlot(r *model.Report) (*plot.Plot, error) {
	if r == nil || len(r.Results) == 0 {
		return nil, fmt.Errorf("%w: no trend results to plot", model.ErrInsufficientData)
	}
	p := plot.New()
	p.Title.Text = r.Lake.Name + " - NDVI Trend vs. Distance from Shore"
	p.X.Label.Text = "Buffer Distance (m)"
	p.Y.Label.Text = slopeAxisLabel(r.Unit)
	p.Legend.Top = true
	grid := plotter.NewGrid()
	dashed(grid)
	p.Add(grid)

	for i, s := range season.Seasons {
		var res []model.TrendResult
		for _, t := range r.Results {
			if t.Season == s {
				res = append(res, t)
			}
		}
		if len(res) == 0 {
			continue
		}
		slices.SortFunc(res, func(a, b model.TrendResult) int { return cmp.Compare(a.OuterM, b.OuterM) })
		pts := slopeErrors{XYs: make(plotter.XYs, len(res)), se: make([]float64, len(res))}
		for j, t := range res {
			pts.XYs[j].X = t.OuterM
			pts.XYs[j].Y = t.Slope
			pts.se[j] = t.StdErr
		}
		line, marks, err := plotter.NewLinePoints(pts.XYs)
		if err != nil {
			return nil, fmt.Errorf("distance decay %s: %w", s, err)
		}
		c := seasonColors[s]
		line.Color = c
		marks.Color = c
		marks.Shape = plotutil.Shape(i)
		bars, err := plotter.NewYErrorBars(pts)
		if err != nil {
			return nil, fmt.Errorf("distance decay %s error bars: %w", s, err)
		}
		bars.Color = c
		p.Add(line, marks, bars)
		p.Legend.Add(SeasonLabel(s), line, marks)
	}
	return p, nil
}

// SeasonalContrastPlot compares dry and monsoon slopes at the ring whose
// outer distance is bufferM.
func SeasonalContrastPlot(r *model.Report, bufferM float64) (*plot.Plot, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no report", model.ErrInsufficientData)
	}
	if bufferM <= 0 {
		bufferM = DefaultContrastBufferM
	}
	var found []model.TrendResult
	for _, s := range season.Seasons {
		for _, t := range r.Results {
			if t.Season == s && t.OuterM == bufferM {
				found = append(found, t)
			}
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no trend at %gm buffer", model.ErrInsufficientData, bufferM)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Seasonal NDVI Trend at %gm Buffer", r.Lake.Name, bufferM)
	p.Y.Label.Text = slopeAxisLabel(r.Unit)
	grid := plotter.NewGrid()
	dashed(grid)
	grid.Vertical.Color = nil
	p.Add(grid)

	names := make([]string, 0, len(found))
	for i, t := range found {
		bars, err := plotter.NewBarChart(plotter.Values{t.Slope}, vg.Points(60))
		if err != nil {
			return nil, fmt.Errorf("seasonal contrast %s: %w", t.Season, err)
		}
		bars.XMin = float64(i)
		bars.Color = seasonColors[t.Season]
		bars.LineStyle.Width = 0
		p.Add(bars)
		names = append(names, SeasonLabel(t.Season))
	}
	p.NominalX(names...)
	return p, nil
}

// Render writes p as svg or png.
func Render(w io.Writer, p *plot.Plot, format string) error {
	f, err := ParseFormat(format)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, f)
	if err != nil {
		return fmt.Errorf("render %s: %w", f, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", f, err)
	}
	return nil
}
