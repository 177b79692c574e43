package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

// CustomLake is the lake selector value that reads the free-text field.
const CustomLake = "Custom"

// BufferOptions are the distances offered by the form.
var BufferOptions = []float64{100, 500, 1000, 2000, 3000, 5000}

type analysisRequest struct {
	Name     string
	Point    *model.LatLng
	RadiusM  float64
	Outline  bool
	Analysis config.Analysis
}

// parseRequest reads the lake selection and analysis overrides from the query.
func parseRequest(q url.Values, def config.Analysis) (analysisRequest, error) {
	req := analysisRequest{Analysis: def}

	name := strings.TrimSpace(q.Get("lake"))
	if name == CustomLake {
		name = strings.TrimSpace(q.Get("custom"))
	}
	req.Name = name
	req.Outline = q.Get("outline") == "1" || q.Get("outline") == "true"

	if lat, lng := q.Get("lat"), q.Get("lng"); lat != "" || lng != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		ln, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return req, fmt.Errorf("%w: lat/lng must both be numbers", model.ErrInvalidParameter)
		}
		req.Point = &model.LatLng{Lat: la, Lng: ln}
		if req.Name == "" {
			req.Name = fmt.Sprintf("%.4f,%.4f", la, ln)
		}
	}
	if req.Name == "" {
		return req, fmt.Errorf("%w: lake is required", model.ErrInvalidParameter)
	}
	if v := q.Get("radius"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("%w: radius %q", model.ErrInvalidParameter, v)
		}
		req.RadiusM = r
	}

	a := &req.Analysis
	var bufs []string
	if v := q.Get("buffers"); v != "" {
		bufs = append(bufs, v)
	}
	bufs = append(bufs, q["buffer"]...)
	if len(bufs) > 0 {
		bp, err := config.ParseBreakpoints(strings.Join(bufs, ","))
		if err != nil {
			return req, err
		}
		a.Rings.Breakpoints = bp
	}
	if v := q.Get("inner_disk"); v != "" {
		a.Rings.InnerDisk = v == "1" || v == "true" || v == "on"
	}
	if v := q.Get("start"); v != "" {
		d, err := config.ParseDate(v)
		if err != nil {
			return req, err
		}
		a.Fetch.Start = d
	}
	if v := q.Get("end"); v != "" {
		d, err := config.ParseDate(v)
		if err != nil {
			return req, err
		}
		a.Fetch.End = d
	}
	if v := q.Get("unit"); v != "" {
		a.Trend.Unit = config.TimeUnit(strings.ToLower(v))
	}
	if err := intParam(q, "min_pixels", &a.Aggregate.MinPixels); err != nil {
		return req, err
	}
	if err := intParam(q, "min_samples", &a.Trend.MinSamples); err != nil {
		return req, err
	}
	if v := q.Get("cloud"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("%w: cloud %q", model.ErrInvalidParameter, v)
		}
		a.Fetch.MaxCloudCover = f
	}
	if err := a.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func intParam(q url.Values, name string, dst *int) error {
	v := q.Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s %q", model.ErrInvalidParameter, name, v)
	}
	*dst = n
	return nil
}

func hasLake(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("lake") != "" || q.Get("lat") != ""
}
