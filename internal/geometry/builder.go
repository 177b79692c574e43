// Package geometry builds distance rings around a water body in a local UTM frame.
package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

const defaultSegments = 64

// RingSet is the ordered ring sequence of one water body in one projection.
// Pixels are attributed by distance band (inner, outer] from the water edge.
type RingSet struct {
	Proj  Projection
	Rings []model.Ring

	center  model.XY
	radius  float64    // point source only
	outline []model.XY // polygon source only
	shore   orb.Ring   // outline, closed
	lo, hi  model.XY   // outline extent
	maxDist float64
}

// Build projects w into the UTM zone of its anchor and builds the rings.
func Build(w model.WaterBody, cfg config.Rings) (*RingSet, error) {
	anchor, ok := w.Anchor()
	if !ok {
		return nil, fmt.Errorf("%w: water body %q has no point or outline", model.ErrInvalidGeometry, w.Name)
	}
	proj, err := ProjectionFor(anchor)
	if err != nil {
		return nil, err
	}
	return build(w, cfg, proj)
}

// BuildInCRS builds the same rings in the given UTM EPSG code.
func BuildInCRS(w model.WaterBody, cfg config.Rings, epsg int) (*RingSet, error) {
	proj, err := ProjectionFromEPSG(epsg)
	if err != nil {
		return nil, err
	}
	return build(w, cfg, proj)
}

func build(w model.WaterBody, cfg config.Rings, proj Projection) (*RingSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	segments := cfg.Segments
	if segments == 0 {
		segments = defaultSegments
	}
	rs := &RingSet{Proj: proj}

	// loopAt returns the loop at distance d from the water edge
	var loopAt func(d float64) []model.XY
	var water []model.XY

	if w.IsPolygon() {
		outline, err := projectOutline(w.Outline, proj)
		if err != nil {
			return nil, err
		}
		rs.outline = outline
		rs.shore = ring(outline)
		rs.center = Centroid(outline)
		rs.lo, rs.hi = extent(outline)
		var maxR float64
		for _, p := range outline {
			maxR = math.Max(maxR, math.Hypot(p.X-rs.center.X, p.Y-rs.center.Y))
		}
		water = outline
		loopAt = func(d float64) []model.XY {
			return radialBuffer(outline, rs.center, maxR, d, segments)
		}
	} else {
		if w.Point == nil {
			return nil, fmt.Errorf("%w: water body %q has no point or outline", model.ErrInvalidGeometry, w.Name)
		}
		if err := checkLatLng(*w.Point); err != nil {
			return nil, err
		}
		if math.IsNaN(w.RadiusM) || math.IsInf(w.RadiusM, 0) || w.RadiusM < 0 {
			return nil, fmt.Errorf("%w: radius must be finite and >= 0, got %v", model.ErrInvalidGeometry, w.RadiusM)
		}
		rs.center = proj.Forward(*w.Point)
		rs.radius = w.RadiusM
		if rs.radius > 0 {
			water = Circle(rs.center, rs.radius, segments)
		}
		loopAt = func(d float64) []model.XY {
			return Circle(rs.center, rs.radius+d, segments)
		}
	}

	bp := cfg.Breakpoints
	rs.maxDist = bp[len(bp)-1]

	loops := make([][]model.XY, len(bp))
	for i, d := range bp {
		loops[i] = loopAt(d)
	}

	if cfg.InnerDisk {
		r := model.Ring{ID: 0, InnerM: 0, OuterM: bp[0], Outer: loops[0], Inner: water}
		rs.Rings = append(rs.Rings, r)
	}
	for i := 1; i < len(bp); i++ {
		rs.Rings = append(rs.Rings, model.Ring{
			ID:     len(rs.Rings),
			InnerM: bp[i-1],
			OuterM: bp[i],
			Outer:  loops[i],
			Inner:  loops[i-1],
		})
	}
	for i := range rs.Rings {
		r := &rs.Rings[i]
		r.AreaM2 = Area(r.Outer) - Area(r.Inner)
	}
	return rs, nil
}

func projectOutline(ll []model.LatLng, proj Projection) ([]model.XY, error) {
	pts := make([]model.XY, 0, len(ll))
	for i, p := range ll {
		if err := checkLatLng(p); err != nil {
			return nil, err
		}
		// closing vertex and consecutive duplicates
		if i == len(ll)-1 && i > 0 && p == ll[0] {
			break
		}
		if i > 0 && p == ll[i-1] {
			continue
		}
		pts = append(pts, proj.Forward(p))
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("%w: outline needs at least 3 distinct vertices, got %d", model.ErrInvalidGeometry, len(pts))
	}
	if Area(pts) < 1 {
		return nil, fmt.Errorf("%w: outline has zero area", model.ErrInvalidGeometry)
	}
	if SelfIntersects(pts) {
		return nil, fmt.Errorf("%w: outline self-intersects", model.ErrInvalidGeometry)
	}
	return pts, nil
}

func extent(loop []model.XY) (lo, hi model.XY) {
	lo = model.XY{X: math.Inf(1), Y: math.Inf(1)}
	hi = model.XY{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, p := range loop {
		lo.X, lo.Y = math.Min(lo.X, p.X), math.Min(lo.Y, p.Y)
		hi.X, hi.Y = math.Max(hi.X, p.X), math.Max(hi.Y, p.Y)
	}
	return lo, hi
}

func (s *RingSet) Len() int { return len(s.Rings) }

func (s *RingSet) CRS() int { return s.Proj.EPSG() }

// EdgeDistance returns the distance of (x,y) from the water edge and whether
// the position lies inside the water body.
func (s *RingSet) EdgeDistance(x, y float64) (float64, bool) {
	if s.outline == nil {
		d := math.Hypot(x-s.center.X, y-s.center.Y) - s.radius
		if d < 0 {
			return 0, true
		}
		return d, false
	}
	// a position farther than the outermost band from the outline extent is in no ring
	dx := math.Max(0, math.Max(s.lo.X-x, x-s.hi.X))
	dy := math.Max(0, math.Max(s.lo.Y-y, y-s.hi.Y))
	if math.Hypot(dx, dy) > s.maxDist {
		return math.Hypot(dx, dy), false
	}
	p := orb.Point{x, y}
	if planar.RingContains(s.shore, p) {
		return 0, true
	}
	return planar.DistanceFrom(s.shore, p), false
}

// Locate returns the ring owning metric position (x,y).
func (s *RingSet) Locate(x, y float64) (int, bool) {
	d, inside := s.EdgeDistance(x, y)
	if inside || d > s.maxDist {
		return 0, false
	}
	i := sort.Search(len(s.Rings), func(i int) bool { return s.Rings[i].OuterM >= d })
	if i == len(s.Rings) {
		return 0, false
	}
	if d <= s.Rings[i].InnerM {
		return 0, false
	}
	return s.Rings[i].ID, true
}

// LoopLatLng returns a ring's outer loop in lon/lat.
func (s *RingSet) LoopLatLng(ringID int) []model.LatLng {
	if ringID < 0 || ringID >= len(s.Rings) {
		return nil
	}
	loop := s.Rings[ringID].Outer
	out := make([]model.LatLng, len(loop))
	for i, p := range loop {
		out[i] = s.Proj.Inverse(p)
	}
	return out
}

// BBox is the lon/lat box around the outermost loop grown by marginM.
func (s *RingSet) BBox(marginM float64) model.BBox {
	if len(s.Rings) == 0 {
		return model.BBox{SRID: "EPSG:4326"}
	}
	lo, hi := extent(s.Rings[len(s.Rings)-1].Outer)
	corners := []model.XY{
		{X: lo.X - marginM, Y: lo.Y - marginM},
		{X: hi.X + marginM, Y: lo.Y - marginM},
		{X: hi.X + marginM, Y: hi.Y + marginM},
		{X: lo.X - marginM, Y: hi.Y + marginM},
	}
	bb := model.BBox{X1: math.Inf(1), Y1: math.Inf(1), X2: math.Inf(-1), Y2: math.Inf(-1), SRID: "EPSG:4326"}
	for _, c := range corners {
		ll := s.Proj.Inverse(c)
		bb.X1, bb.Y1 = math.Min(bb.X1, ll.Lng), math.Min(bb.Y1, ll.Lat)
		bb.X2, bb.Y2 = math.Max(bb.X2, ll.Lng), math.Max(bb.Y2, ll.Lat)
	}
	return bb
}
