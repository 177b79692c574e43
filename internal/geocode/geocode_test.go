package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/httpclient"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
)

func TestFindPreset(t *testing.T) {
	w, ok := FindPreset("pichola")
	if !ok || w.Name != "Pichola" || w.Point == nil || w.Point.Lat != 24.572 {
		t.Fatalf("pichola: ok=%v w=%+v", ok, w)
	}
	if _, ok := FindPreset("Sukhna, Chandigarh, India"); !ok {
		t.Fatalf("full label should match")
	}
	if _, ok := FindPreset("Dal"); ok {
		t.Fatalf("Dal is not a preset")
	}
	if n := len(Presets()); n != 4 {
		t.Fatalf("presets=%d want 4", n)
	}
}

func TestNominatim_LookupPointAndOutline(t *testing.T) {
	var gotUA, gotPoly string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "jsonv2" {
			t.Errorf("unexpected request %s", r.URL)
		}
		gotUA = r.Header.Get("User-Agent")
		gotPoly = r.URL.Query().Get("polygon_geojson")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"34.11","lon":"74.86","display_name":"Dal Lake",
			"geojson":{"type":"Polygon","coordinates":[[[74.85,34.10],[74.88,34.10],[74.88,34.13],[74.85,34.13],[74.85,34.10]]]}}]`))
	}))
	defer srv.Close()

	hc := httpclient.NewOutbound(httpclient.Options{UserAgent: "lake_ndvi_analyzer"})
	n := NewNominatim(srv.URL, hc, logger.Discard())

	w, err := n.Lookup(context.Background(), "Dal, Srinagar, India", true)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if w.Name != "Dal" || w.Point.Lat != 34.11 || w.Point.Lng != 74.86 {
		t.Fatalf("unexpected lake %+v", w)
	}
	if len(w.Outline) < 4 {
		t.Fatalf("outline missing: %+v", w.Outline)
	}
	if gotUA != "lake_ndvi_analyzer" || gotPoly != "1" {
		t.Fatalf("ua=%q polygon_geojson=%q", gotUA, gotPoly)
	}
}

func TestNominatim_Errors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if s := int(status.Load()); s != http.StatusOK {
			http.Error(w, "busy", s)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL, srv.Client(), logger.Discard())
	n.limiter.SetLimit(1000)
	n.limiter.SetBurst(10)

	if _, err := n.Lookup(context.Background(), "Nowhere", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	status.Store(http.StatusServiceUnavailable)
	if _, err := n.Lookup(context.Background(), "Nowhere", false); !errors.Is(err, model.ErrDataFetch) {
		t.Fatalf("want ErrDataFetch, got %v", err)
	}
	if _, err := n.Lookup(context.Background(), "  ", false); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("want ErrInvalidParameter, got %v", err)
	}
}

func TestResolver_PresetSkipsGeocoder(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"lat":"1","lon":"2"}]`))
	}))
	defer srv.Close()

	r := Resolver{Geocoder: NewNominatim(srv.URL, srv.Client(), logger.Discard())}
	if _, err := r.Resolve(context.Background(), "Chilika", false); err != nil {
		t.Fatalf("resolve preset: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("geocoder called for preset")
	}
	w, err := r.Resolve(context.Background(), "Custom Lake, Somewhere", false)
	if err != nil || w.Name != "Custom Lake" || calls.Load() != 1 {
		t.Fatalf("custom: w=%+v err=%v calls=%d", w, err, calls.Load())
	}
	if _, err := (Resolver{}).Resolve(context.Background(), "Custom", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no geocoder: want ErrNotFound, got %v", err)
	}
}
