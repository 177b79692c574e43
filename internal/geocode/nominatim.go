package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geometry"
)

var ErrNotFound = errors.New("location not found")

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim is a client for the OSM geocoder. Its usage policy allows one
// request per second, which the limiter enforces.
type Nominatim struct {
	base    string
	http    *http.Client
	log     *slog.Logger
	limiter *rate.Limiter
}

func NewNominatim(base string, hc *http.Client, log *slog.Logger) *Nominatim {
	if base == "" {
		base = DefaultNominatimURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Nominatim{
		base:    strings.TrimRight(base, "/"),
		http:    hc,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type place struct {
	Lat         string          `json:"lat"`
	Lon         string          `json:"lon"`
	DisplayName string          `json:"display_name"`
	GeoJSON     json.RawMessage `json:"geojson"`
}

// Lookup geocodes q. With outline set, a polygon returned by the geocoder
// becomes the water body outline; otherwise the point is used.
func (n *Nominatim) Lookup(ctx context.Context, q string, outline bool) (model.WaterBody, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return model.WaterBody{}, fmt.Errorf("%w: empty location", model.ErrInvalidParameter)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return model.WaterBody{}, err
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	if outline {
		params.Set("polygon_geojson", "1")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+"/search?"+params.Encode(), nil)
	if err != nil {
		return model.WaterBody{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := n.http.Do(req)
	if err != nil {
		return model.WaterBody{}, fmt.Errorf("%w: geocode %q: %w", model.ErrDataFetch, q, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("nominatim", time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return model.WaterBody{}, fmt.Errorf("%w: geocode status %d: %s", model.ErrDataFetch, resp.StatusCode, string(b))
	}
	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return model.WaterBody{}, fmt.Errorf("%w: decode geocode: %w", model.ErrDataFetch, err)
	}
	if len(places) == 0 {
		return model.WaterBody{}, fmt.Errorf("%w: %q", ErrNotFound, q)
	}
	p := places[0]
	lat, err1 := strconv.ParseFloat(p.Lat, 64)
	lng, err2 := strconv.ParseFloat(p.Lon, 64)
	if err := errors.Join(err1, err2); err != nil {
		return model.WaterBody{}, fmt.Errorf("%w: bad coordinates for %q: %w", model.ErrDataFetch, q, err)
	}

	name, _, _ := strings.Cut(q, ",")
	w := model.WaterBody{Name: strings.TrimSpace(name), Point: &model.LatLng{Lat: lat, Lng: lng}}
	if outline && len(p.GeoJSON) > 0 {
		if ll, err := geometry.ParseOutline(p.GeoJSON); err == nil {
			w.Outline = ll
		} else {
			n.log.DebugContext(ctx, "geocoder returned no usable outline", "q", q, "err", err)
		}
	}
	n.log.InfoContext(ctx, "geocoded", "q", q, "display_name", p.DisplayName, "lat", lat, "lng", lng, "outline", len(w.Outline) > 0)
	return w, nil
}

// Resolver checks presets before asking the geocoder.
type Resolver struct {
	Geocoder *Nominatim
}

func (r Resolver) Resolve(ctx context.Context, name string, outline bool) (model.WaterBody, error) {
	if w, ok := FindPreset(name); ok {
		return w, nil
	}
	if r.Geocoder == nil {
		return model.WaterBody{}, fmt.Errorf("%w: %q is not a preset and no geocoder is configured", ErrNotFound, name)
	}
	return r.Geocoder.Lookup(ctx, name, outline)
}
