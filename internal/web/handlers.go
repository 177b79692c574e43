package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/plot"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geocode"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/report"
)

var funcs = template.FuncMap{
	"season": report.SeasonLabel,
	"date":   func(t time.Time) string { return t.Format(time.DateOnly) },
	"num": func(v float64) string {
		return strconv.FormatFloat(v, 'g', 4, 64)
	},
	"meters": func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) },
}

// Routes mounts the dashboard and API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.handleIndex)
	r.Get("/api/lakes", s.handleLakes)
	r.Get("/api/analysis", s.handleAnalysis)
	r.Get("/api/analysis/trends.csv", s.handleCSV(report.WriteTrendsCSV, "trends.csv"))
	r.Get("/api/analysis/skipped.csv", s.handleCSV(report.WriteSkippedCSV, "skipped.csv"))
	r.Get("/api/analysis/observations.csv", s.handleCSV(report.WriteObservationsCSV, "observations.csv"))
	r.Get("/plots/distance-decay.{format}", s.handleDecayPlot)
	r.Get("/plots/seasonal.{format}", s.handleSeasonalPlot)
}

type pageData struct {
	Lakes   []geocode.Preset
	Custom  string
	Buffers []float64
	Query   url.Values
	Report  *model.Report
	Err     string

	DecayPlot    template.URL
	SeasonalPlot template.URL
	TrendsCSV    template.URL
	SkippedCSV   template.URL
}

func (d *pageData) links(q url.Values) {
	enc := q.Encode()
	d.DecayPlot = template.URL("/plots/distance-decay.svg?" + enc)
	d.SeasonalPlot = template.URL("/plots/seasonal.svg?" + enc)
	d.TrendsCSV = template.URL("/api/analysis/trends.csv?" + enc)
	d.SkippedCSV = template.URL("/api/analysis/skipped.csv?" + enc)
}

// Selected reports whether the form had v chosen for the lake field.
func (d pageData) Selected(v string) bool { return d.Query.Get("lake") == v }

// Checked reports whether buffer b is part of the submitted ring set.
func (d pageData) Checked(b float64) bool {
	for _, v := range d.Query["buffer"] {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f == b {
			return true
		}
	}
	return len(d.Query["buffer"]) == 0
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := pageData{
		Lakes:   geocode.Presets(),
		Custom:  CustomLake,
		Buffers: BufferOptions,
		Query:   q,
	}
	code := http.StatusOK
	if hasLake(r) {
		rep, err := s.fromRequest(r)
		if err != nil {
			code = status(err)
			data.Err = err.Error()
		} else {
			data.Report = rep
			data.links(q)
		}
	}
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "index.html", data); err != nil {
		s.log.ErrorContext(r.Context(), "render index", "err", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleLakes(w http.ResponseWriter, _ *http.Request) {
	type lake struct {
		Label string       `json:"label"`
		Name  string       `json:"name"`
		Point model.LatLng `json:"point"`
	}
	presets := geocode.Presets()
	out := make([]lake, 0, len(presets))
	for _, p := range presets {
		pt, _ := p.Lake.Anchor()
		out = append(out, lake{Label: p.Label, Name: p.Lake.Name, Point: pt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	rep, err := s.fromRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCSV(write func(io.Writer, ...*model.Report) error, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.fromRequest(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := write(&buf, rep); err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName(rep.Lake.Name, name)))
		_, _ = buf.WriteTo(w)
	}
}

func (s *Server) handleDecayPlot(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.fromRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := report.DistanceDecayPlot(rep)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, p, format)
}

func (s *Server) handleSeasonalPlot(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	buffer := float64(report.DefaultContrastBufferM)
	if v := r.URL.Query().Get("contrast"); v != "" {
		if buffer, err = strconv.ParseFloat(v, 64); err != nil {
			s.fail(w, r, fmt.Errorf("%w: contrast %q", model.ErrInvalidParameter, v))
			return
		}
	}
	rep, err := s.fromRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := report.SeasonalContrastPlot(rep, buffer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, p, format)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, p *plot.Plot, format string) {
	var buf bytes.Buffer
	if err := report.Render(&buf, p, format); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = buf.WriteTo(w)
}

func (s *Server) fromRequest(r *http.Request) (*model.Report, error) {
	req, err := parseRequest(r.URL.Query(), s.d.Analysis)
	if err != nil {
		return nil, err
	}
	return s.analyze(r.Context(), req)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	if code >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "err", err)
	} else {
		s.log.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "reason": model.Reason(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func fileName(lake, suffix string) string {
	return report.Slug(lake) + "_" + suffix
}
