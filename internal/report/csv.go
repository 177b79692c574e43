// Package report writes trend results as flat tables and plots.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

var (
	TrendsHeader       = []string{"lake", "ring_id", "inner_m", "outer_m", "season", "slope", "intercept", "std_err", "p_value", "r_squared", "n", "unit", "first_date", "last_date"}
	SkippedHeader      = []string{"lake", "ring_id", "season", "reason", "detail"}
	ObservationsHeader = []string{"lake", "ring_id", "date", "season", "mean", "pixels"}
	DroppedHeader      = []string{"lake", "scene_id", "date", "reason", "detail"}
)

const dateLayout = time.DateOnly

// Slug turns a lake name into a file-name stem: lowercase ASCII letters and
// digits, other runs collapsed to one underscore. An empty result is "lake".
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "_"):
			b.WriteByte('_')
		}
	}
	if s := strings.TrimRight(b.String(), "_"); s != "" {
		return s
	}
	return "lake"
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }

// WriteTrendsCSV writes one row per fitted (ring, season) pair of every report.
func WriteTrendsCSV(w io.Writer, reports ...*model.Report) error {
	return writeAll(w, TrendsHeader, reports, func(r *model.Report, emit func([]string) error) error {
		for _, t := range r.Results {
			err := emit([]string{
				r.Lake.Name, strconv.Itoa(t.RingID), ff(t.InnerM), ff(t.OuterM), string(t.Season),
				ff(t.Slope), ff(t.Intercept), ff(t.StdErr), ff(t.PValue), ff(t.RSquared),
				strconv.Itoa(t.N), t.Unit, t.First.Format(dateLayout), t.Last.Format(dateLayout),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func WriteSkippedCSV(w io.Writer, reports ...*model.Report) error {
	return writeAll(w, SkippedHeader, reports, func(r *model.Report, emit func([]string) error) error {
		for _, s := range r.Skipped {
			if err := emit([]string{r.Lake.Name, strconv.Itoa(s.RingID), string(s.Season), s.Reason, s.Detail}); err != nil {
				return err
			}
		}
		return nil
	})
}

func WriteObservationsCSV(w io.Writer, reports ...*model.Report) error {
	return writeAll(w, ObservationsHeader, reports, func(r *model.Report, emit func([]string) error) error {
		for _, o := range r.Observations {
			err := emit([]string{
				r.Lake.Name, strconv.Itoa(o.RingID), o.Date.Format(dateLayout), string(o.Season),
				ff(o.Mean), strconv.Itoa(o.Pixels),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func WriteDroppedCSV(w io.Writer, reports ...*model.Report) error {
	return writeAll(w, DroppedHeader, reports, func(r *model.Report, emit func([]string) error) error {
		for _, d := range r.DroppedScenes {
			if err := emit([]string{r.Lake.Name, d.ID, d.Date.Format(dateLayout), d.Reason, d.Detail}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeAll(w io.Writer, header []string, reports []*model.Report, rows func(*model.Report, func([]string) error) error) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range reports {
		if r == nil {
			continue
		}
		if err := rows(r, cw.Write); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
