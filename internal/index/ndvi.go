// Package index turns scene bands into per-pixel vegetation index rasters.
package index

import (
	"fmt"
	"math"
	"slices"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// NDVI computes (nir - red) / (nir + red + eps) on the red band's grid.
// NIR and the quality band are sampled at each red pixel center, so bands of
// different resolution (10 m / 20 m) line up. Masked pixels are NaN.
func NDVI(scene model.SceneSample, cfg config.Index) (model.IndexRaster, error) {
	red, ok := scene.Bands[cfg.RedBand]
	if !ok {
		return model.IndexRaster{}, fmt.Errorf("%w: scene %s: missing band %s", model.ErrDataFetch, scene.ID, cfg.RedBand)
	}
	nir, ok := scene.Bands[cfg.NIRBand]
	if !ok {
		return model.IndexRaster{}, fmt.Errorf("%w: scene %s: missing band %s", model.ErrDataFetch, scene.ID, cfg.NIRBand)
	}
	if red.Width <= 0 || red.Height <= 0 || len(red.Data) != red.Width*red.Height {
		return model.IndexRaster{}, fmt.Errorf("%w: scene %s: malformed %s raster", model.ErrDataFetch, scene.ID, cfg.RedBand)
	}
	var scl *model.Raster
	if cfg.QualityBand != "" {
		q, ok := scene.Bands[cfg.QualityBand]
		if !ok {
			return model.IndexRaster{}, fmt.Errorf("%w: scene %s: missing quality band %s", model.ErrDataFetch, scene.ID, cfg.QualityBand)
		}
		scl = &q
	}
	sameNIR := sameGrid(red, nir)
	sameSCL := scl != nil && sameGrid(red, *scl)

	out := model.IndexRaster{
		SceneID:   scene.ID,
		Date:      scene.Date,
		CRS:       scene.CRS,
		Width:     red.Width,
		Height:    red.Height,
		Transform: red.Transform,
		Values:    make([]float64, len(red.Data)),
	}
	for row := range red.Height {
		for col := range red.Width {
			i := row*red.Width + col
			out.Values[i] = math.NaN()

			r := red.Data[i]
			if red.HasNoData && r == red.NoData {
				continue
			}
			x, y := red.Transform.Apply(float64(col)+0.5, float64(row)+0.5)

			var n float64
			if sameNIR {
				n = nir.Data[i]
				if nir.HasNoData && n == nir.NoData {
					continue
				}
			} else if n, ok = nir.Sample(x, y); !ok {
				continue
			}

			if scl != nil {
				var q float64
				if sameSCL {
					q = scl.Data[i]
					if scl.HasNoData && q == scl.NoData {
						continue
					}
				} else if q, ok = scl.Sample(x, y); !ok {
					continue
				}
				if !slices.Contains(cfg.ClearClasses, int(q)) {
					continue
				}
			}

			v := (n - r) / (n + r + cfg.Epsilon)
			if math.IsNaN(v) || math.IsInf(v, 0) || v < -1 || v > 1 {
				continue
			}
			out.Values[i] = v
		}
	}
	return out, nil
}

func sameGrid(a, b model.Raster) bool {
	return a.Width == b.Width && a.Height == b.Height && a.Transform == b.Transform && len(b.Data) == len(a.Data)
}

// Valid counts the unmasked pixels of an index raster.
func Valid(ir model.IndexRaster) int {
	n := 0
	for _, v := range ir.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}
