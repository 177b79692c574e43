package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// ring closes an open loop into an orb ring.
func ring(loop []model.XY) orb.Ring {
	r := make(orb.Ring, 0, len(loop)+1)
	for _, p := range loop {
		r = append(r, orb.Point{p.X, p.Y})
	}
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}

// Area returns the planar area of an open loop in square meters.
func Area(loop []model.XY) float64 {
	if len(loop) < 3 {
		return 0
	}
	return math.Abs(planar.Area(ring(loop)))
}

// Centroid is the area-weighted centroid of a simple loop, or the vertex
// mean when the loop has no area.
func Centroid(loop []model.XY) model.XY {
	if len(loop) >= 3 {
		if c, a := planar.CentroidArea(ring(loop)); a != 0 {
			return model.XY{X: c[0], Y: c[1]}
		}
	}
	var c model.XY
	for _, p := range loop {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(loop))
	return model.XY{X: c.X / n, Y: c.Y / n}
}

// Contains reports whether p lies inside the loop or on its boundary.
func Contains(loop []model.XY, p model.XY) bool {
	return planar.RingContains(ring(loop), orb.Point{p.X, p.Y})
}

// BoundaryDistance is the distance from p to the nearest edge of the loop.
func BoundaryDistance(loop []model.XY, p model.XY) float64 {
	return planar.DistanceFrom(ring(loop), orb.Point{p.X, p.Y})
}

func orient(a, b, c model.XY) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func onSegment(a, b, p model.XY) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

func segmentsIntersect(p1, p2, q1, q2 model.XY) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

// SelfIntersects reports whether any two non-adjacent edges touch.
func SelfIntersects(loop []model.XY) bool {
	n := len(loop)
	for i := range n {
		a1, a2 := loop[i], loop[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// adjacent edges share a vertex by construction
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(a1, a2, loop[j], loop[(j+1)%n]) {
				return true
			}
		}
	}
	return false
}

// Circle returns an open counter-clockwise loop of the given radius.
func Circle(c model.XY, r float64, segments int) []model.XY {
	out := make([]model.XY, segments)
	for i := range segments {
		th := 2 * math.Pi * float64(i) / float64(segments)
		out[i] = model.XY{X: c.X + r*math.Cos(th), Y: c.Y + r*math.Sin(th)}
	}
	return out
}

// radialBuffer walks rays out of the centroid and places one vertex per ray
// where the distance to the polygon boundary reaches d.
func radialBuffer(loop []model.XY, c model.XY, maxR, d float64, segments int) []model.XY {
	shore := ring(loop)
	out := make([]model.XY, segments)
	for i := range segments {
		th := 2 * math.Pi * float64(i) / float64(segments)
		ux, uy := math.Cos(th), math.Sin(th)
		at := func(r float64) model.XY { return model.XY{X: c.X + r*ux, Y: c.Y + r*uy} }

		lo := exitRadius(loop, c, ux, uy, maxR)
		hi := maxR + d
		for range 48 {
			mid := (lo + hi) / 2
			p := at(mid)
			q := orb.Point{p.X, p.Y}
			if planar.RingContains(shore, q) || planar.DistanceFrom(shore, q) < d {
				lo = mid
			} else {
				hi = mid
			}
		}
		out[i] = at(hi)
	}
	return out
}

// exitRadius is the largest ray parameter at which the ray crosses the loop.
func exitRadius(loop []model.XY, c model.XY, ux, uy, maxR float64) float64 {
	far := model.XY{X: c.X + (maxR+1)*ux, Y: c.Y + (maxR+1)*uy}
	best := 0.0
	n := len(loop)
	for i := range n {
		a, b := loop[i], loop[(i+1)%n]
		if !segmentsIntersect(c, far, a, b) {
			continue
		}
		ex, ey := b.X-a.X, b.Y-a.Y
		den := ux*ey - uy*ex
		if den == 0 {
			continue
		}
		t := ((a.X-c.X)*ey - (a.Y-c.Y)*ex) / den
		if t > best {
			best = t
		}
	}
	return best
}
