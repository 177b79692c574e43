package h3mapper

import (
	"slices"
	"testing"

	h3 "github.com/uber/h3-go/v4"
)

func cellAt(t *testing.T, lat, lng float64, res int) string {
	t.Helper()
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	return c.String()
}

func TestAtRes_RollsUpFinerCells(t *testing.T) {
	m := New()
	fine := cellAt(t, 24.572, 73.679, 9)
	home := cellAt(t, 24.572, 73.679, 7)

	got, err := m.AtRes([]string{fine, home}, 7)
	if err != nil {
		t.Fatalf("AtRes: %v", err)
	}
	if len(got) != 1 || got[0] != home {
		t.Fatalf("got %v want [%s]", got, home)
	}
}

func TestAtRes_ExpandsCoarserCells(t *testing.T) {
	m := New()
	coarse := cellAt(t, 19.5, 85.3, 5)

	got, err := m.AtRes([]string{coarse}, 7)
	if err != nil {
		t.Fatalf("AtRes: %v", err)
	}
	if len(got) != 49 {
		t.Fatalf("children=%d want 49", len(got))
	}
	if !slices.IsSorted(got) {
		t.Fatalf("cells must be sorted")
	}
	if !slices.Contains(got, cellAt(t, 19.5, 85.3, 7)) {
		t.Fatalf("expansion misses the point's own res-7 cell")
	}
	again, _ := m.AtRes([]string{coarse}, 7)
	if !slices.Equal(got, again) {
		t.Fatalf("repeated calls differ")
	}
}

func TestAtRes_Errors(t *testing.T) {
	m := New()
	if _, err := m.AtRes([]string{"not-a-cell"}, 7); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := m.AtRes([]string{cellAt(t, 30.733, 76.817, 9)}, 16); err == nil {
		t.Fatalf("expected resolution error")
	}
	got, err := m.AtRes(nil, 7)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty input: got %v err %v", got, err)
	}
}
