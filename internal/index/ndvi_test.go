package index

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

func grid(w, h int, px float64, fill func(col, row int) float64) model.Raster {
	r := model.Raster{
		Width:     w,
		Height:    h,
		Transform: model.Affine{A: px, C: 600000, E: -px, F: 2700000},
		Data:      make([]float64, w*h),
	}
	for row := range h {
		for col := range w {
			r.Data[row*w+col] = fill(col, row)
		}
	}
	return r
}

func constant(v float64) func(int, int) float64 { return func(int, int) float64 { return v } }

func scene(bands map[string]model.Raster) model.SceneSample {
	return model.SceneSample{ID: "S2A_TEST", Date: time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), CRS: 32643, Bands: bands}
}

func TestNDVI_FormulaAndGrid(t *testing.T) {
	cfg := config.DefaultAnalysis().Index
	cfg.QualityBand = ""
	sc := scene(map[string]model.Raster{
		"B04": grid(4, 4, 10, constant(1000)),
		"B08": grid(4, 4, 10, constant(3000)),
	})
	ir, err := NDVI(sc, cfg)
	if err != nil {
		t.Fatalf("NDVI: %v", err)
	}
	want := 2000.0 / (4000 + 1e-9)
	for i, v := range ir.Values {
		if math.Abs(v-want) > 1e-12 {
			t.Fatalf("pixel %d = %v want %v", i, v, want)
		}
	}
	if ir.Width != 4 || ir.CRS != 32643 || ir.SceneID != "S2A_TEST" || Valid(ir) != 16 {
		t.Fatalf("unexpected raster meta: %+v", ir)
	}
}

func TestNDVI_ResamplesCoarserBands(t *testing.T) {
	cfg := config.DefaultAnalysis().Index
	// 20 m SCL: left half vegetation (4), right half cloud (9)
	scl := grid(2, 2, 20, func(col, _ int) float64 {
		if col == 0 {
			return 4
		}
		return 9
	})
	nir := grid(2, 2, 20, constant(3000))
	sc := scene(map[string]model.Raster{
		"B04": grid(4, 4, 10, constant(1000)),
		"B08": nir,
		"SCL": scl,
	})
	ir, err := NDVI(sc, cfg)
	if err != nil {
		t.Fatalf("NDVI: %v", err)
	}
	for row := range 4 {
		for col := range 4 {
			v := ir.Values[row*4+col]
			if col < 2 && math.IsNaN(v) {
				t.Fatalf("clear pixel (%d,%d) masked", col, row)
			}
			if col >= 2 && !math.IsNaN(v) {
				t.Fatalf("cloud pixel (%d,%d) = %v, want masked", col, row, v)
			}
		}
	}
}

func TestNDVI_MasksNoDataAndOutOfRange(t *testing.T) {
	cfg := config.DefaultAnalysis().Index
	cfg.QualityBand = ""
	red := grid(3, 1, 10, func(col, _ int) float64 { return []float64{0, 1000, -5000}[col] })
	red.HasNoData, red.NoData = true, 0
	sc := scene(map[string]model.Raster{
		"B04": red,
		"B08": grid(3, 1, 10, constant(1000)),
	})
	ir, err := NDVI(sc, cfg)
	if err != nil {
		t.Fatalf("NDVI: %v", err)
	}
	if !math.IsNaN(ir.Values[0]) {
		t.Fatalf("nodata pixel = %v", ir.Values[0])
	}
	if math.Abs(ir.Values[1]) > 1e-12 {
		t.Fatalf("equal bands = %v want 0", ir.Values[1])
	}
	// (1000+5000)/(1000-5000) = -1.5 is outside [-1,1]
	if !math.IsNaN(ir.Values[2]) {
		t.Fatalf("out-of-range pixel = %v", ir.Values[2])
	}
}

func TestNDVI_MissingBand(t *testing.T) {
	cfg := config.DefaultAnalysis().Index
	_, err := NDVI(scene(map[string]model.Raster{"B04": grid(1, 1, 10, constant(1))}), cfg)
	if !errors.Is(err, model.ErrDataFetch) {
		t.Fatalf("want ErrDataFetch, got %v", err)
	}
}

func TestNDVI_MissingQualityBandDropsScene(t *testing.T) {
	cfg := config.DefaultAnalysis().Index
	sc := scene(map[string]model.Raster{
		"B04": grid(2, 2, 10, constant(1000)),
		"B08": grid(2, 2, 10, constant(3000)),
	})
	if _, err := NDVI(sc, cfg); !errors.Is(err, model.ErrDataFetch) {
		t.Fatalf("want ErrDataFetch for missing SCL, got %v", err)
	}
	cfg.QualityBand = ""
	if _, err := NDVI(sc, cfg); err != nil {
		t.Fatalf("masking disabled: %v", err)
	}
}
