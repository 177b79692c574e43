// Package model defines core domain types shared across the toolkit.
package model

import (
	"fmt"
	"time"
)

// LatLng is a WGS84 position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// XY is a position in a projected metric frame.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching the lon/lat bbox query format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Contains(p LatLng) bool {
	return p.Lng >= b.X1 && p.Lng <= b.X2 && p.Lat >= b.Y1 && p.Lat <= b.Y2
}

// Polygon is a raw GeoJSON Polygon or MultiPolygon in lon/lat.
type Polygon struct {
	GeoJSON string
}

type Cells []string

// WaterBody is either a point (optionally with a radius) or an outline polygon.
// Outline wins when both are set.
type WaterBody struct {
	Name    string   `json:"name"`
	Point   *LatLng  `json:"point,omitempty"`
	RadiusM float64  `json:"radius_m,omitempty"`
	Outline []LatLng `json:"outline,omitempty"`
}

func (w WaterBody) IsPolygon() bool { return len(w.Outline) > 0 }

// Anchor is the representative position used for zone selection and cache keys.
func (w WaterBody) Anchor() (LatLng, bool) {
	if w.IsPolygon() {
		var lat, lng float64
		n := 0
		for i, p := range w.Outline {
			if i == len(w.Outline)-1 && i > 0 && p == w.Outline[0] {
				break
			}
			lat += p.Lat
			lng += p.Lng
			n++
		}
		if n == 0 {
			return LatLng{}, false
		}
		return LatLng{Lat: lat / float64(n), Lng: lng / float64(n)}, true
	}
	if w.Point == nil {
		return LatLng{}, false
	}
	return *w.Point, true
}

type Ring struct {
	ID     int     `json:"id"`
	InnerM float64 `json:"inner_m"`
	OuterM float64 `json:"outer_m"`
	// loops are in the ring set's metric CRS; Inner is nil for a disk
	Outer  []XY    `json:"-"`
	Inner  []XY    `json:"-"`
	AreaM2 float64 `json:"area_m2"`
}

func (r Ring) Label() string {
	return fmt.Sprintf("%g-%gm", r.InnerM, r.OuterM)
}

// Affine maps pixel (col,row) to CRS (x,y): x = A*col + B*row + C, y = D*col + E*row + F.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps CRS (x,y) back to fractional pixel (col,row).
func (t Affine) Invert(x, y float64) (col, row float64, ok bool) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return 0, 0, false
	}
	dx, dy := x-t.C, y-t.F
	col = (t.E*dx - t.B*dy) / det
	row = (-t.D*dx + t.A*dy) / det
	return col, row, true
}

type Raster struct {
	Width     int
	Height    int
	Transform Affine
	Data      []float64 // row-major
	NoData    float64
	HasNoData bool
}

func (r Raster) At(col, row int) float64 {
	return r.Data[row*r.Width+col]
}

// Sample returns the nearest pixel value at CRS position (x,y).
func (r Raster) Sample(x, y float64) (float64, bool) {
	c, rw, ok := r.Transform.Invert(x, y)
	if !ok {
		return 0, false
	}
	col, row := int(c), int(rw)
	if c < 0 || rw < 0 || col >= r.Width || row >= r.Height {
		return 0, false
	}
	v := r.At(col, row)
	if r.HasNoData && v == r.NoData {
		return 0, false
	}
	return v, true
}

type SceneSample struct {
	ID         string
	Date       time.Time
	Collection string
	CloudCover float64
	CRS        int // EPSG code
	Bands      map[string]Raster
}

type IndexRaster struct {
	SceneID   string
	Date      time.Time
	CRS       int
	Width     int
	Height    int
	Transform Affine
	Values    []float64 // NaN when masked
}

type SceneQuery struct {
	BBox          BBox
	Start, End    time.Time
	Collection    string
	MaxCloudCover float64
	Assets        []string
}

type SceneFailure struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
	Err  error     `json:"-"`
}

type SceneBatch struct {
	Scenes []SceneSample
	Failed []SceneFailure
}

type Season string

const (
	SeasonNone    Season = ""
	SeasonDry     Season = "dry"
	SeasonMonsoon Season = "monsoon"
)

type Observation struct {
	RingID int       `json:"ring_id"`
	Date   time.Time `json:"date"`
	Mean   float64   `json:"mean"`
	Pixels int       `json:"pixels"`
	Season Season    `json:"season,omitempty"`
}

type TrendResult struct {
	RingID    int       `json:"ring_id"`
	InnerM    float64   `json:"inner_m"`
	OuterM    float64   `json:"outer_m"`
	Season    Season    `json:"season"`
	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`
	StdErr    float64   `json:"std_err"`
	PValue    float64   `json:"p_value"`
	RSquared  float64   `json:"r_squared"`
	N         int       `json:"n"`
	Unit      string    `json:"unit"`
	First     time.Time `json:"first_date"`
	Last      time.Time `json:"last_date"`
}

// Skip records a (ring, season) pair that produced no trend.
type Skip struct {
	RingID int    `json:"ring_id"`
	Season Season `json:"season"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

type DroppedScene struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
	Detail string    `json:"detail"`
}

type Report struct {
	RunID         string         `json:"run_id"`
	Lake          WaterBody      `json:"lake"`
	CRS           int            `json:"crs"`
	Rings         []Ring         `json:"rings"`
	Observations  []Observation  `json:"observations"`
	Results       []TrendResult  `json:"results"`
	Skipped       []Skip         `json:"skipped"`
	DroppedScenes []DroppedScene `json:"dropped_scenes"`
	OffSeason     int            `json:"off_season_observations"`
	ScenesUsed    int            `json:"scenes_used"`
	Unit          string         `json:"unit"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// Result returns the trend for a ring/season pair if one was fitted.
func (r *Report) Result(ringID int, s Season) (TrendResult, bool) {
	for _, tr := range r.Results {
		if tr.RingID == ringID && tr.Season == s {
			return tr, true
		}
	}
	return TrendResult{}, false
}
