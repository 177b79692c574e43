package geometry

import (
	"math"
	"testing"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

func TestProjectionFor_Zones(t *testing.T) {
	cases := []struct {
		p    model.LatLng
		epsg int
	}{
		{pichola, 32643},
		{model.LatLng{Lat: 19.5, Lng: 85.3}, 32645},
		{model.LatLng{Lat: -33.9, Lng: 18.4}, 32734},
		{model.LatLng{Lat: 0, Lng: 180}, 32660},
	}
	for _, tc := range cases {
		p, err := ProjectionFor(tc.p)
		if err != nil {
			t.Fatalf("%v: %v", tc.p, err)
		}
		if p.EPSG() != tc.epsg {
			t.Fatalf("%v: epsg=%d want %d", tc.p, p.EPSG(), tc.epsg)
		}
		back, err := ProjectionFromEPSG(p.EPSG())
		if err != nil || back != p {
			t.Fatalf("epsg round trip %v -> %v (%v)", p, back, err)
		}
	}
}

func TestForward_CentralMeridianAndEquator(t *testing.T) {
	p := Projection{Zone: 31, North: true}
	xy := p.Forward(model.LatLng{Lat: 0, Lng: 3})
	if math.Abs(xy.X-500000) > 1e-3 || math.Abs(xy.Y) > 1e-3 {
		t.Fatalf("origin=%v", xy)
	}
	s := Projection{Zone: 31, North: false}
	if y := s.Forward(model.LatLng{Lat: -0.000001, Lng: 3}).Y; math.Abs(y-10000000) > 1 {
		t.Fatalf("south false northing y=%v", y)
	}
}

func TestForwardInverse_RoundTrip(t *testing.T) {
	for _, ll := range []model.LatLng{
		pichola,
		{Lat: 30.733, Lng: 76.817},
		{Lat: 15.3, Lng: 76.333},
		{Lat: -41.2, Lng: 174.7},
	} {
		p, err := ProjectionFor(ll)
		if err != nil {
			t.Fatalf("%v: %v", ll, err)
		}
		back := p.Inverse(p.Forward(ll))
		if math.Abs(back.Lat-ll.Lat) > 1e-6 || math.Abs(back.Lng-ll.Lng) > 1e-6 {
			t.Fatalf("round trip %v -> %v", ll, back)
		}
	}
}

func TestForward_MetricScale(t *testing.T) {
	p, _ := ProjectionFor(pichola)
	a := p.Forward(pichola)
	b := p.Forward(model.LatLng{Lat: pichola.Lat + 0.01, Lng: pichola.Lng})
	// 0.01 degree of latitude is about 1.1 km
	if d := math.Hypot(b.X-a.X, b.Y-a.Y); d < 1100 || d > 1115 {
		t.Fatalf("0.01deg lat = %v m", d)
	}
}
