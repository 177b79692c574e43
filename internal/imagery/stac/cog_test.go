package stac

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geometry"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
)

func cogValue(x, y int) uint16 { return uint16(1000 + 3*x + 7*y) }

// tiledTIFF writes a little-endian single-band uint16 tiled TIFF.
func tiledTIFF(t *testing.T, w, h, tile int, deflate bool) []byte {
	t.Helper()
	across, down := (w+tile-1)/tile, (h+tile-1)/tile
	var tiles [][]byte
	for ty := range down {
		for tx := range across {
			raw := make([]byte, tile*tile*2)
			for y := range tile {
				for x := range tile {
					gx, gy := tx*tile+x, ty*tile+y
					if gx < w && gy < h {
						binary.LittleEndian.PutUint16(raw[(y*tile+x)*2:], cogValue(gx, gy))
					}
				}
			}
			if deflate {
				// horizontal differencing, right to left
				for y := range tile {
					for x := tile - 1; x > 0; x-- {
						i := (y*tile + x) * 2
						v := binary.LittleEndian.Uint16(raw[i:]) - binary.LittleEndian.Uint16(raw[i-2:])
						binary.LittleEndian.PutUint16(raw[i:], v)
					}
				}
				var buf bytes.Buffer
				zw := zlib.NewWriter(&buf)
				_, _ = zw.Write(raw)
				if err := zw.Close(); err != nil {
					t.Fatalf("zlib: %v", err)
				}
				raw = buf.Bytes()
			}
			tiles = append(tiles, raw)
		}
	}

	n := len(tiles)
	compression, predictor := uint32(1), uint32(1)
	if deflate {
		compression, predictor = 8, 2
	}
	const entries = 11
	ifdSize := 2 + entries*12 + 4
	offsetsAt := 8 + ifdSize
	countsAt := offsetsAt + 4*n
	dataAt := countsAt + 4*n

	le := binary.LittleEndian
	out := make([]byte, dataAt)
	copy(out, "II")
	le.PutUint16(out[2:], 42)
	le.PutUint32(out[4:], 8)
	le.PutUint16(out[8:], entries)
	entry := func(i int, tag, typ uint16, count, value uint32) {
		e := out[10+i*12:]
		le.PutUint16(e, tag)
		le.PutUint16(e[2:], typ)
		le.PutUint32(e[4:], count)
		if typ == 3 && count == 1 {
			le.PutUint16(e[8:], uint16(value))
			return
		}
		le.PutUint32(e[8:], value)
	}
	entry(0, tagImageWidth, 4, 1, uint32(w))
	entry(1, tagImageLength, 4, 1, uint32(h))
	entry(2, tagBitsPerSample, 3, 1, 16)
	entry(3, tagCompression, 3, 1, compression)
	entry(4, tagSamplesPerPixel, 3, 1, 1)
	entry(5, tagPredictor, 3, 1, predictor)
	entry(6, tagTileWidth, 3, 1, uint32(tile))
	entry(7, tagTileLength, 3, 1, uint32(tile))
	entry(8, tagTileOffsets, 4, uint32(n), uint32(offsetsAt))
	entry(9, tagTileByteCounts, 4, uint32(n), uint32(countsAt))
	entry(10, tagSampleFormat, 3, 1, 1)

	pos := dataAt
	for i, tb := range tiles {
		le.PutUint32(out[offsetsAt+4*i:], uint32(pos))
		le.PutUint32(out[countsAt+4*i:], uint32(len(tb)))
		out = append(out, tb...)
		pos += len(tb)
	}
	return out
}

// rangeServer serves body with Range support and records requested ranges.
type rangeServer struct {
	mu     sync.Mutex
	ranges []string
	srv    *httptest.Server
}

func newRangeServer(t *testing.T, body []byte) *rangeServer {
	t.Helper()
	rs := &rangeServer{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.ranges = append(rs.ranges, r.Header.Get("Range"))
		rs.mu.Unlock()
		http.ServeContent(w, r, "band.tif", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *rangeServer) requests() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

// bboxFor returns the lon/lat bbox of pixel columns/rows [c0,c1) x [r0,r1).
func bboxFor(c0, r0, c1, r1 int) model.BBox {
	proj := geometry.Projection{Zone: 43, North: true}
	a := proj.Inverse(model.XY{X: originX + float64(c0)*px + 1, Y: originY - float64(r1)*px + 1})
	b := proj.Inverse(model.XY{X: originX + float64(c1)*px - 1, Y: originY - float64(r0)*px - 1})
	return model.BBox{X1: a.Lng, Y1: a.Lat, X2: b.Lng, Y2: b.Lat}
}

func tiledAsset(href string) Asset {
	return Asset{Href: href, Transform: []float64{px, 0, originX, 0, -px, originY}}
}

func checkWindow(t *testing.T, r model.Raster) {
	t.Helper()
	col0 := int((r.Transform.C-originX)/px + 0.5)
	row0 := int((originY-r.Transform.F)/px + 0.5)
	for row := range r.Height {
		for col := range r.Width {
			if got, want := r.At(col, row), float64(cogValue(col0+col, row0+row)); got != want {
				t.Fatalf("pixel (%d,%d)=%v want %v", col0+col, row0+row, got, want)
			}
		}
	}
}

func TestLoadAsset_TiledReadsOnlyIntersectingTiles(t *testing.T) {
	body := tiledTIFF(t, 256, 256, 64, false)
	if len(body) <= headerProbe {
		t.Fatalf("fixture too small: %d bytes", len(body))
	}
	rs := newRangeServer(t, body)
	c, err := New(Config{URL: rs.srv.URL, RPS: 1000}, rs.srv.Client(), logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// inside the last tile, which lies past the header probe
	r, err := c.loadAsset(context.Background(), tiledAsset(rs.srv.URL+"/band.tif"), 32643, bboxFor(200, 200, 220, 220))
	if err != nil {
		t.Fatalf("loadAsset: %v", err)
	}
	if r.Width < 20 || r.Width > 23 || r.Height < 20 || r.Height > 23 {
		t.Fatalf("window %dx%d", r.Width, r.Height)
	}
	checkWindow(t, r)

	reqs := rs.requests()
	if len(reqs) != 2 {
		t.Fatalf("requests=%v want header probe plus one tile", reqs)
	}
	for _, h := range reqs {
		if !strings.HasPrefix(h, "bytes=") {
			t.Fatalf("request without range: %v", reqs)
		}
	}
}

func TestLoadAsset_DeflatePredictorAcrossTiles(t *testing.T) {
	rs := newRangeServer(t, tiledTIFF(t, 100, 90, 32, true))
	c, _ := New(Config{URL: rs.srv.URL, RPS: 1000}, rs.srv.Client(), logger.Discard())

	// spans most tiles, clipped by the right and bottom edges
	r, err := c.loadAsset(context.Background(), tiledAsset(rs.srv.URL+"/band.tif"), 32643, bboxFor(20, 20, 100, 90))
	if err != nil {
		t.Fatalf("loadAsset: %v", err)
	}
	if r.Transform.C+float64(r.Width)*px > originX+100*px+1e-6 {
		t.Fatalf("window runs past the image: %+v", r.Transform)
	}
	checkWindow(t, r)
}

func TestLoadAsset_NoRangeSupportIsBounded(t *testing.T) {
	body := tiffBytes(t, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, _ := New(Config{URL: srv.URL, RPS: 1000, MaxAssetBytes: int64(len(body) / 2)}, srv.Client(), logger.Discard())
	_, err := c.loadAsset(context.Background(), tiledAsset(srv.URL+"/band.tif"), 32643, bboxFor(2, 2, 8, 8))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("want size limit error, got %v", err)
	}

	c, _ = New(Config{URL: srv.URL, RPS: 1000}, srv.Client(), logger.Discard())
	if _, err := c.loadAsset(context.Background(), tiledAsset(srv.URL+"/band.tif"), 32643, bboxFor(2, 2, 8, 8)); err != nil {
		t.Fatalf("whole-file fallback: %v", err)
	}
}

func TestLoadAsset_StripTIFFFallsBackToWholeFile(t *testing.T) {
	rs := newRangeServer(t, tiffBytes(t, 1000))
	c, _ := New(Config{URL: rs.srv.URL, RPS: 1000}, rs.srv.Client(), logger.Discard())

	r, err := c.loadAsset(context.Background(), tiledAsset(rs.srv.URL+"/band.tif"), 32643, bboxFor(2, 2, 8, 8))
	if err != nil {
		t.Fatalf("loadAsset: %v", err)
	}
	col0 := int((r.Transform.C-originX)/px + 0.5)
	row0 := int((originY-r.Transform.F)/px + 0.5)
	if got, want := r.At(0, 0), float64(1000+100*col0+row0); got != want {
		t.Fatalf("origin value=%v want %v", got, want)
	}
	if reqs := rs.requests(); len(reqs) != 2 || reqs[1] != "" {
		t.Fatalf("requests=%v want probe then whole file", reqs)
	}
}
