package config

import (
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

func TestDefaultAnalysis_IsValid(t *testing.T) {
	if err := DefaultAnalysis().Validate(); err != nil {
		t.Fatalf("default analysis invalid: %v", err)
	}
}

func TestRings_Validate(t *testing.T) {
	cases := []struct {
		name  string
		rings Rings
		ok    bool
	}{
		{"increasing", Rings{Breakpoints: []float64{100, 500, 1000}}, true},
		{"single without disk", Rings{Breakpoints: []float64{100}}, false},
		{"single with disk", Rings{Breakpoints: []float64{100}, InnerDisk: true}, true},
		{"empty", Rings{}, false},
		{"equal", Rings{Breakpoints: []float64{100, 100}}, false},
		{"decreasing", Rings{Breakpoints: []float64{500, 100}}, false},
		{"zero", Rings{Breakpoints: []float64{0, 100}}, false},
		{"negative", Rings{Breakpoints: []float64{-5, 100}}, false},
		{"few segments", Rings{Breakpoints: []float64{1, 2}, Segments: 4}, false},
	}
	for _, tc := range cases {
		err := tc.rings.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected err %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, model.ErrInvalidParameter) {
			t.Fatalf("%s: want ErrInvalidParameter, got %v", tc.name, err)
		}
	}
}

func TestSeasons_ValidateAndOf(t *testing.T) {
	s := DefaultAnalysis().Seasons
	if got := s.Of(time.March); got != model.SeasonDry {
		t.Fatalf("march=%q want dry", got)
	}
	if got := s.Of(time.August); got != model.SeasonMonsoon {
		t.Fatalf("august=%q want monsoon", got)
	}
	if got := s.Of(time.June); got != model.SeasonNone {
		t.Fatalf("june=%q want none", got)
	}

	overlap := Seasons{Dry: []time.Month{1, 2}, Monsoon: []time.Month{2, 3}}
	if err := overlap.Validate(); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("overlap: want ErrInvalidParameter, got %v", err)
	}
	outOfRange := Seasons{Dry: []time.Month{13}, Monsoon: []time.Month{7}}
	if err := outOfRange.Validate(); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("month 13: want ErrInvalidParameter, got %v", err)
	}
}

func TestTrend_ValidateRejectsTinySamplesAndUnknownUnit(t *testing.T) {
	if err := (Trend{MinSamples: 2, Unit: UnitDay}).Validate(); err == nil {
		t.Fatalf("expected error for min samples 2")
	}
	if err := (Trend{MinSamples: 3, Unit: "fortnight"}).Validate(); err == nil {
		t.Fatalf("expected error for unknown unit")
	}
}

func TestParseHelpers(t *testing.T) {
	bp, err := ParseBreakpoints(" 100, 500 ,1000,")
	if err != nil {
		t.Fatalf("ParseBreakpoints: %v", err)
	}
	if len(bp) != 3 || bp[0] != 100 || bp[2] != 1000 {
		t.Fatalf("breakpoints=%v", bp)
	}
	if _, err := ParseBreakpoints("100,abc"); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("want ErrInvalidParameter, got %v", err)
	}
	m, err := ParseMonths("7,8")
	if err != nil || len(m) != 2 || m[0] != time.July {
		t.Fatalf("ParseMonths=%v err=%v", m, err)
	}
	if _, err := ParseDate("2020-02-30"); err == nil {
		t.Fatalf("expected invalid date error")
	}
}

func TestFromEnv_AnalysisOverrides(t *testing.T) {
	t.Setenv("NDVI_BREAKPOINTS", "100,500,1000")
	t.Setenv("NDVI_DRY_MONTHS", "12,1,2")
	t.Setenv("NDVI_TIME_UNIT", "Year")
	t.Setenv("NDVI_START", "2020-01-01")
	t.Setenv("H3_RES", "99")

	cfg := FromEnv()
	if cfg.H3Res != 7 {
		t.Fatalf("out-of-range H3_RES should fall back to 7, got %d", cfg.H3Res)
	}
	a := cfg.Analysis
	if len(a.Rings.Breakpoints) != 3 {
		t.Fatalf("breakpoints=%v", a.Rings.Breakpoints)
	}
	if len(a.Seasons.Dry) != 3 || a.Seasons.Dry[0] != time.December {
		t.Fatalf("dry=%v", a.Seasons.Dry)
	}
	if a.Trend.Unit != UnitYear {
		t.Fatalf("unit=%q", a.Trend.Unit)
	}
	if a.Fetch.Start.Year() != 2020 {
		t.Fatalf("start=%v", a.Fetch.Start)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("overridden analysis invalid: %v", err)
	}
}
