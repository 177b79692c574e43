// Package season partitions observation series by calendar month.
package season

import (
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// Split holds the two season subsequences and the observations whose month
// belongs to neither season. Each keeps the input order.
type Split struct {
	Dry     []model.Observation
	Monsoon []model.Observation
	Dropped []model.Observation
}

// Of returns the subsequence for s.
func (sp Split) Of(s model.Season) []model.Observation {
	switch s {
	case model.SeasonDry:
		return sp.Dry
	case model.SeasonMonsoon:
		return sp.Monsoon
	default:
		return sp.Dropped
	}
}

// Seasons lists the fitted seasons in reporting order.
var Seasons = []model.Season{model.SeasonDry, model.SeasonMonsoon}

// Partition labels each observation with its season.
func Partition(obs []model.Observation, cfg config.Seasons) (Split, error) {
	if err := cfg.Validate(); err != nil {
		return Split{}, err
	}
	var sp Split
	for _, o := range obs {
		o.Season = cfg.Of(o.Date.Month())
		switch o.Season {
		case model.SeasonDry:
			sp.Dry = append(sp.Dry, o)
		case model.SeasonMonsoon:
			sp.Monsoon = append(sp.Monsoon, o)
		default:
			sp.Dropped = append(sp.Dropped, o)
		}
	}
	return sp, nil
}
