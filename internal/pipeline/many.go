package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// Outcome is the result of one lake in a batch.
type Outcome struct {
	Lake   model.WaterBody
	Report *model.Report
	Err    error
}

// RunMany analyses lakes independently with at most workers in flight. A
// failing lake never cancels its siblings; outcomes keep the input order.
func (a *Analyzer) RunMany(ctx context.Context, lakes []model.WaterBody, workers int) []Outcome {
	if workers < 1 {
		workers = 1
	}
	out := make([]Outcome, len(lakes))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, lake := range lakes {
		g.Go(func() error {
			rep, err := a.Run(ctx, lake)
			out[i] = Outcome{Lake: lake, Report: rep, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
