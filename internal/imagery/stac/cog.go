package stac

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/image/tiff/lzw"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
)

// headerProbe is the first ranged read of an asset. COGs keep the IFD and
// tile index at the front, so this usually covers them.
const headerProbe = 64 << 10

// errNotTiled sends an asset to the whole-file path.
var errNotTiled = errors.New("not a tiled single-band tiff")

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagSamplesPerPixel = 277
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
)

const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionDeflate2 = 32946
)

type ifd struct {
	order         binary.ByteOrder
	width, height int
	tileW, tileH  int
	bits          int
	samples       int
	compression   int
	predictor     int
	sampleFormat  int
	offsets       []uint64
	counts        []uint64
}

// fetchRange GETs bytes [off, off+n) of href. partial is false when the
// server ignored the range and sent the whole file, which is then read up
// to MaxAssetBytes.
func (c *Client) fetchRange(ctx context.Context, href string, off, n int64) (b []byte, partial bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build asset request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
	start := c.startNow()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	defer func() { observability.ObserveUpstreamLatency("stac_asset", time.Since(start).Seconds()) }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		b, err = io.ReadAll(io.LimitReader(resp.Body, n))
		if err != nil {
			return nil, false, fmt.Errorf("read asset range: %w", err)
		}
		return b, true, nil
	case http.StatusOK:
		b, err = c.readBounded(resp.Body)
		return b, false, err
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, false, fmt.Errorf("asset status %d: %s", resp.StatusCode, string(msg))
	}
}

// readTiles fills the window [lo,hi] from the tiles of a tiled TIFF that
// intersect it. head holds the first bytes of the file.
func (c *Client) readTiles(ctx context.Context, href string, head []byte, tr model.Affine, lo, hi model.XY) (model.Raster, error) {
	at := func(off, n int64) ([]byte, error) {
		if off >= 0 && off+n <= int64(len(head)) {
			return head[off : off+n], nil
		}
		b, partial, err := c.fetchRange(ctx, href, off, n)
		if err != nil {
			return nil, err
		}
		if !partial || int64(len(b)) < n {
			return nil, fmt.Errorf("short ranged read at %d (%d of %d bytes)", off, len(b), n)
		}
		return b, nil
	}

	d, err := parseIFD(head, at)
	if err != nil {
		return model.Raster{}, err
	}
	col0, row0, col1, row1, err := pixelWindow(d.width, d.height, tr, lo, hi)
	if err != nil {
		return model.Raster{}, err
	}
	out := windowRaster(tr, col0, row0, col1-col0, row1-row0)

	across := (d.width + d.tileW - 1) / d.tileW
	for ty := row0 / d.tileH; ty <= (row1-1)/d.tileH; ty++ {
		for tx := col0 / d.tileW; tx <= (col1-1)/d.tileW; tx++ {
			i := ty*across + tx
			if i >= len(d.offsets) {
				return model.Raster{}, fmt.Errorf("tile %d outside the tile index (%d)", i, len(d.offsets))
			}
			if d.counts[i] == 0 {
				// sparse tile, left as nodata
				continue
			}
			raw, err := at(int64(d.offsets[i]), int64(d.counts[i]))
			if err != nil {
				return model.Raster{}, fmt.Errorf("tile %d: %w", i, err)
			}
			pix, err := d.decodeTile(raw)
			if err != nil {
				return model.Raster{}, fmt.Errorf("tile %d: %w", i, err)
			}
			x0, x1 := max(col0, tx*d.tileW), min(col1, (tx+1)*d.tileW)
			y0, y1 := max(row0, ty*d.tileH), min(row1, (ty+1)*d.tileH)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					out.Data[(y-row0)*out.Width+(x-col0)] = d.sample(pix, (y-ty*d.tileH)*d.tileW+(x-tx*d.tileW))
				}
			}
		}
	}
	return out, nil
}

// parseIFD reads the first image directory of a classic TIFF. Layouts the
// tile reader cannot handle return errNotTiled.
func parseIFD(head []byte, at func(off, n int64) ([]byte, error)) (*ifd, error) {
	if len(head) < 8 {
		return nil, fmt.Errorf("%w: short header", errNotTiled)
	}
	d := &ifd{bits: 1, samples: 1, compression: compressionNone, predictor: 1, sampleFormat: 1}
	switch string(head[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", errNotTiled)
	}
	if d.order.Uint16(head[2:]) != 42 {
		// BigTIFF and friends
		return nil, fmt.Errorf("%w: unsupported tiff version", errNotTiled)
	}
	off := int64(d.order.Uint32(head[4:]))
	cnt, err := at(off, 2)
	if err != nil {
		return nil, err
	}
	n := int64(d.order.Uint16(cnt))
	entries, err := at(off+2, n*12)
	if err != nil {
		return nil, err
	}

	for k := range n {
		e := entries[k*12 : k*12+12]
		tag := d.order.Uint16(e)
		switch tag {
		case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression, tagSamplesPerPixel,
			tagPredictor, tagTileWidth, tagTileLength, tagTileOffsets, tagTileByteCounts, tagSampleFormat:
		default:
			continue
		}
		vals, err := d.values(e, at)
		if err != nil {
			return nil, fmt.Errorf("tiff tag %d: %w", tag, err)
		}
		if len(vals) == 0 {
			continue
		}
		v := int(vals[0])
		switch tag {
		case tagImageWidth:
			d.width = v
		case tagImageLength:
			d.height = v
		case tagBitsPerSample:
			d.bits = v
		case tagCompression:
			d.compression = v
		case tagSamplesPerPixel:
			d.samples = v
		case tagPredictor:
			d.predictor = v
		case tagTileWidth:
			d.tileW = v
		case tagTileLength:
			d.tileH = v
		case tagTileOffsets:
			d.offsets = vals
		case tagTileByteCounts:
			d.counts = vals
		case tagSampleFormat:
			d.sampleFormat = v
		}
	}

	switch {
	case d.tileW <= 0 || d.tileH <= 0 || len(d.offsets) == 0:
		return nil, fmt.Errorf("%w: no tile layout", errNotTiled)
	case d.samples != 1 || d.sampleFormat != 1 || (d.bits != 8 && d.bits != 16):
		return nil, fmt.Errorf("%w: %d samples of %d-bit format %d", errNotTiled, d.samples, d.bits, d.sampleFormat)
	case d.predictor != 1 && d.predictor != 2:
		return nil, fmt.Errorf("%w: predictor %d", errNotTiled, d.predictor)
	case d.compression != compressionNone && d.compression != compressionLZW &&
		d.compression != compressionDeflate && d.compression != compressionDeflate2:
		return nil, fmt.Errorf("%w: compression %d", errNotTiled, d.compression)
	case len(d.counts) != len(d.offsets):
		return nil, fmt.Errorf("tile index mismatch: %d offsets, %d byte counts", len(d.offsets), len(d.counts))
	case d.width <= 0 || d.height <= 0:
		return nil, fmt.Errorf("invalid image size %dx%d", d.width, d.height)
	}
	return d, nil
}

// values decodes an integer IFD entry, inline or from its offset.
func (d *ifd) values(e []byte, at func(off, n int64) ([]byte, error)) ([]uint64, error) {
	var size int64
	switch d.order.Uint16(e[2:]) {
	case 3: // SHORT
		size = 2
	case 4: // LONG
		size = 4
	case 16: // LONG8
		size = 8
	default:
		return nil, fmt.Errorf("unsupported field type %d", d.order.Uint16(e[2:]))
	}
	count := int64(d.order.Uint32(e[4:]))
	raw := e[8:12]
	if total := size * count; total > 4 {
		b, err := at(int64(d.order.Uint32(e[8:])), total)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	out := make([]uint64, count)
	for i := range count {
		switch size {
		case 2:
			out[i] = uint64(d.order.Uint16(raw[i*2:]))
		case 4:
			out[i] = uint64(d.order.Uint32(raw[i*4:]))
		default:
			out[i] = d.order.Uint64(raw[i*8:])
		}
	}
	return out, nil
}

func (d *ifd) decodeTile(raw []byte) ([]byte, error) {
	var r io.Reader = bytes.NewReader(raw)
	switch d.compression {
	case compressionLZW:
		lr := lzw.NewReader(r, lzw.MSB, 8)
		defer func() { _ = lr.Close() }()
		r = lr
	case compressionDeflate, compressionDeflate2:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	buf := make([]byte, d.tileW*d.tileH*d.bits/8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if d.predictor == 2 {
		d.undoPredictor(buf)
	}
	return buf, nil
}

// undoPredictor reverses horizontal differencing row by row.
func (d *ifd) undoPredictor(buf []byte) {
	for y := range d.tileH {
		switch d.bits {
		case 8:
			row := buf[y*d.tileW : (y+1)*d.tileW]
			for x := 1; x < d.tileW; x++ {
				row[x] += row[x-1]
			}
		case 16:
			row := buf[y*d.tileW*2 : (y+1)*d.tileW*2]
			for x := 1; x < d.tileW; x++ {
				v := d.order.Uint16(row[x*2:]) + d.order.Uint16(row[(x-1)*2:])
				d.order.PutUint16(row[x*2:], v)
			}
		}
	}
}

func (d *ifd) sample(pix []byte, i int) float64 {
	if d.bits == 8 {
		return float64(pix[i])
	}
	return float64(d.order.Uint16(pix[i*2:]))
}
