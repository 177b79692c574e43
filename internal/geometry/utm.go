package geometry

import (
	"fmt"
	"math"
	"sync"

	"github.com/wroge/wgs84"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

const (
	utmMinLa = -80.0
	utmMaxLa = 84.0
)

// Projection is a WGS84 UTM zone. It converts between lon/lat and meters.
type Projection struct {
	Zone  int
	North bool
}

// ProjectionFor picks the standard 6 degree zone containing p.
func ProjectionFor(p model.LatLng) (Projection, error) {
	if err := checkLatLng(p); err != nil {
		return Projection{}, err
	}
	zone := int(math.Floor((p.Lng+180)/6)) + 1
	if zone > 60 {
		zone = 60
	}
	return Projection{Zone: zone, North: p.Lat >= 0}, nil
}

// ProjectionFromEPSG accepts 326zz (north) and 327zz (south).
func ProjectionFromEPSG(code int) (Projection, error) {
	switch {
	case code > 32600 && code <= 32660:
		return Projection{Zone: code - 32600, North: true}, nil
	case code > 32700 && code <= 32760:
		return Projection{Zone: code - 32700, North: false}, nil
	default:
		return Projection{}, fmt.Errorf("%w: EPSG:%d is not a WGS84 UTM zone", model.ErrInvalidParameter, code)
	}
}

func (p Projection) EPSG() int {
	if p.North {
		return 32600 + p.Zone
	}
	return 32700 + p.Zone
}

func (p Projection) String() string { return fmt.Sprintf("EPSG:%d", p.EPSG()) }

type zoneFuncs struct {
	fwd, inv wgs84.Func
}

// zones caches the transform pair of each Projection.
var zones sync.Map

func (p Projection) funcs() zoneFuncs {
	if f, ok := zones.Load(p); ok {
		return f.(zoneFuncs)
	}
	utm := wgs84.UTM(float64(p.Zone), p.North)
	f := zoneFuncs{fwd: wgs84.LonLat().To(utm), inv: utm.To(wgs84.LonLat())}
	zones.Store(p, f)
	return f
}

// Forward projects lon/lat to easting/northing.
func (p Projection) Forward(ll model.LatLng) model.XY {
	x, y, _ := p.funcs().fwd(ll.Lng, ll.Lat, 0)
	return model.XY{X: x, Y: y}
}

// Inverse maps easting/northing back to lon/lat.
func (p Projection) Inverse(xy model.XY) model.LatLng {
	lng, lat, _ := p.funcs().inv(xy.X, xy.Y, 0)
	return model.LatLng{Lat: lat, Lng: lng}
}

func checkLatLng(p model.LatLng) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("%w: non-finite coordinate %v", model.ErrInvalidGeometry, p)
	}
	if p.Lng < -180 || p.Lng > 180 || p.Lat < utmMinLa || p.Lat > utmMaxLa {
		return fmt.Errorf("%w: coordinate %v outside UTM coverage", model.ErrInvalidGeometry, p)
	}
	return nil
}
