package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/image/tiff"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geometry"
)

// Sentinel-2 L2A uses 0 as nodata for reflectance and SCL.
const s2NoData = 0

func (c *Client) loadScene(ctx context.Context, it Item, q model.SceneQuery) (model.SceneSample, error) {
	s := model.SceneSample{
		ID:         it.ID,
		Date:       it.date(),
		Collection: it.Collection,
		CloudCover: it.cloudCover(),
		Bands:      make(map[string]model.Raster, len(q.Assets)),
	}
	if s.Date.IsZero() {
		return s, fmt.Errorf("item %s has no datetime", it.ID)
	}
	for _, name := range q.Assets {
		if _, ok := it.Assets[name]; !ok {
			return s, fmt.Errorf("item %s has no asset %s", it.ID, name)
		}
	}
	for _, name := range q.Assets {
		a := it.Assets[name]
		epsg, ok := it.epsg(a)
		if !ok {
			return s, fmt.Errorf("item %s asset %s has no projection", it.ID, name)
		}
		if s.CRS == 0 {
			s.CRS = epsg
		}
		r, err := c.loadAsset(ctx, a, epsg, q.BBox)
		if err != nil {
			return s, fmt.Errorf("asset %s: %w", name, err)
		}
		s.Bands[name] = r
	}
	return s, nil
}

func (c *Client) loadAsset(ctx context.Context, a Asset, epsg int, bb model.BBox) (model.Raster, error) {
	if len(a.Transform) < 6 {
		return model.Raster{}, fmt.Errorf("missing proj:transform")
	}
	tr := model.Affine{
		A: a.Transform[0], B: a.Transform[1], C: a.Transform[2],
		D: a.Transform[3], E: a.Transform[4], F: a.Transform[5],
	}
	href, err := c.sign(ctx, a.Href)
	if err != nil {
		return model.Raster{}, err
	}
	proj, err := geometry.ProjectionFromEPSG(epsg)
	if err != nil {
		return model.Raster{}, err
	}
	lo, hi := window(proj, bb)

	head, partial, err := c.fetchRange(ctx, href, 0, headerProbe)
	if err != nil {
		return model.Raster{}, err
	}
	if !partial {
		// the server sent the whole file
		return decodeCrop(head, tr, lo, hi)
	}
	r, err := c.readTiles(ctx, href, head, tr, lo, hi)
	if !errors.Is(err, errNotTiled) {
		return r, err
	}
	c.log.DebugContext(ctx, "asset is not a tiled tiff, reading whole file", "href", a.Href, "reason", err)
	full, err := c.download(ctx, href)
	if err != nil {
		return model.Raster{}, err
	}
	return decodeCrop(full, tr, lo, hi)
}

// window projects the lon/lat bbox into the asset CRS.
func window(proj geometry.Projection, bb model.BBox) (lo, hi model.XY) {
	lo = model.XY{X: math.Inf(1), Y: math.Inf(1)}
	hi = model.XY{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, ll := range []model.LatLng{
		{Lat: bb.Y1, Lng: bb.X1}, {Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1}, {Lat: bb.Y2, Lng: bb.X2},
		{Lat: (bb.Y1 + bb.Y2) / 2, Lng: bb.X1}, {Lat: (bb.Y1 + bb.Y2) / 2, Lng: bb.X2},
	} {
		p := proj.Forward(ll)
		lo.X, lo.Y = math.Min(lo.X, p.X), math.Min(lo.Y, p.Y)
		hi.X, hi.Y = math.Max(hi.X, p.X), math.Max(hi.Y, p.Y)
	}
	return lo, hi
}

func (c *Client) sign(ctx context.Context, href string) (string, error) {
	if c.cfg.SignURL == "" {
		return href, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	u, err := url.Parse(c.cfg.SignURL)
	if err != nil {
		return "", fmt.Errorf("parse sign url: %w", err)
	}
	qs := u.Query()
	qs.Set("href", href)
	u.RawQuery = qs.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	start := c.startNow()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("stac_sign", time.Since(start).Seconds())
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sign status %d", resp.StatusCode)
	}
	var out struct {
		Href string `json:"href"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode sign: %w", err)
	}
	if out.Href == "" {
		return "", fmt.Errorf("sign returned empty href")
	}
	return out.Href, nil
}

// download reads a whole asset, bounded by MaxAssetBytes.
func (c *Client) download(ctx context.Context, href string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, fmt.Errorf("build asset request: %w", err)
	}
	start := c.startNow()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("asset status %d: %s", resp.StatusCode, string(b))
	}
	b, err := c.readBounded(resp.Body)
	observability.ObserveUpstreamLatency("stac_asset", time.Since(start).Seconds())
	return b, err
}

func (c *Client) readBounded(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	if int64(len(b)) > c.cfg.MaxAssetBytes {
		return nil, fmt.Errorf("asset exceeds %d bytes and the server does not serve ranges", c.cfg.MaxAssetBytes)
	}
	return b, nil
}

func decodeCrop(b []byte, tr model.Affine, lo, hi model.XY) (model.Raster, error) {
	img, err := tiff.Decode(bytes.NewReader(b))
	if err != nil {
		return model.Raster{}, fmt.Errorf("decode tiff: %w", err)
	}
	return crop(img, tr, lo, hi)
}

// pixelWindow converts the metric window [lo,hi] into a pixel range of a
// w x h grid, clamped to the grid.
func pixelWindow(w, h int, tr model.Affine, lo, hi model.XY) (col0, row0, col1, row1 int, err error) {
	c0, r0 := math.Inf(1), math.Inf(1)
	c1, r1 := math.Inf(-1), math.Inf(-1)
	for _, p := range []model.XY{{X: lo.X, Y: lo.Y}, {X: hi.X, Y: lo.Y}, {X: lo.X, Y: hi.Y}, {X: hi.X, Y: hi.Y}} {
		col, row, ok := tr.Invert(p.X, p.Y)
		if !ok {
			return 0, 0, 0, 0, fmt.Errorf("singular geotransform")
		}
		c0, r0 = math.Min(c0, col), math.Min(r0, row)
		c1, r1 = math.Max(c1, col), math.Max(r1, row)
	}
	col0 = max(0, int(math.Floor(c0)))
	row0 = max(0, int(math.Floor(r0)))
	col1 = min(w, int(math.Ceil(c1)))
	row1 = min(h, int(math.Ceil(r1)))
	if col1 <= col0 || row1 <= row0 {
		return 0, 0, 0, 0, fmt.Errorf("asset does not cover the query bbox")
	}
	return col0, row0, col1, row1, nil
}

// windowRaster allocates the output for pixels [col0,col0+w) x [row0,row0+h).
func windowRaster(tr model.Affine, col0, row0, w, h int) model.Raster {
	out := model.Raster{
		Width:  w,
		Height: h,
		Data:   make([]float64, w*h),
		NoData: s2NoData, HasNoData: true,
	}
	out.Transform = tr
	out.Transform.C, out.Transform.F = tr.Apply(float64(col0), float64(row0))
	return out
}

// crop copies the pixels of img intersecting the metric window [lo,hi].
func crop(img image.Image, tr model.Affine, lo, hi model.XY) (model.Raster, error) {
	bounds := img.Bounds()
	col0, row0, col1, row1, err := pixelWindow(bounds.Dx(), bounds.Dy(), tr, lo, hi)
	if err != nil {
		return model.Raster{}, err
	}
	out := windowRaster(tr, col0, row0, col1-col0, row1-row0)
	for row := range out.Height {
		for col := range out.Width {
			out.Data[row*out.Width+col] = pixel(img, bounds.Min.X+col0+col, bounds.Min.Y+row0+row)
		}
	}
	return out, nil
}

func pixel(img image.Image, x, y int) float64 {
	switch m := img.(type) {
	case *image.Gray16:
		return float64(m.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(m.GrayAt(x, y).Y)
	default:
		return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
	}
}
