package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
)

type searchBody struct {
	Collections []string                  `json:"collections"`
	BBox        []float64                 `json:"bbox"`
	Datetime    string                    `json:"datetime"`
	Query       map[string]map[string]any `json:"query,omitempty"`
	Limit       int                       `json:"limit"`
}

type link struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type Asset struct {
	Href      string    `json:"href"`
	Transform []float64 `json:"proj:transform,omitempty"`
	Shape     []int     `json:"proj:shape,omitempty"`
	EPSG      *int      `json:"proj:epsg,omitempty"`
	Code      string    `json:"proj:code,omitempty"`
}

type Item struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	Properties map[string]any   `json:"properties"`
	Assets     map[string]Asset `json:"assets"`
}

type featureCollection struct {
	Features []Item `json:"features"`
	Links    []link `json:"links"`
}

func (it Item) date() time.Time {
	s, _ := it.Properties["datetime"].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func (it Item) cloudCover() float64 {
	f, _ := it.Properties["eo:cloud_cover"].(float64)
	return f
}

// epsg resolves the item CRS from proj:epsg or proj:code, asset first.
func (it Item) epsg(a Asset) (int, bool) {
	if a.EPSG != nil {
		return *a.EPSG, true
	}
	if n, ok := parseCode(a.Code); ok {
		return n, true
	}
	if f, ok := it.Properties["proj:epsg"].(float64); ok {
		return int(f), true
	}
	if s, ok := it.Properties["proj:code"].(string); ok {
		return parseCode(s)
	}
	return 0, false
}

func parseCode(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToUpper(s), "EPSG:") {
		return 0, false
	}
	n, err := strconv.Atoi(s[5:])
	return n, err == nil
}

// Search runs a POST /search and follows "next" links until the catalog
// stops paginating or MaxItems is reached.
func (c *Client) Search(ctx context.Context, q model.SceneQuery) ([]Item, error) {
	body := searchBody{
		Collections: []string{q.Collection},
		BBox:        []float64{q.BBox.X1, q.BBox.Y1, q.BBox.X2, q.BBox.Y2},
		Datetime:    q.Start.UTC().Format(time.RFC3339) + "/" + q.End.UTC().Format(time.RFC3339),
		Query:       map[string]map[string]any{"eo:cloud_cover": {"lt": q.MaxCloudCover}},
		Limit:       c.cfg.PageSize,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	method, target := http.MethodPost, c.endpoint("/search")
	var items []Item
	seen := map[string]struct{}{}
	for page := 0; target != ""; page++ {
		fc, err := c.searchPage(ctx, method, target, payload)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		for _, it := range fc.Features {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			items = append(items, it)
		}
		if len(items) >= c.cfg.MaxItems {
			items = items[:c.cfg.MaxItems]
			break
		}
		target = ""
		for _, l := range fc.Links {
			if l.Rel != "next" || l.Href == "" {
				continue
			}
			target = l.Href
			method = http.MethodGet
			if strings.EqualFold(l.Method, http.MethodPost) {
				method = http.MethodPost
				if len(l.Body) > 0 {
					payload = l.Body
				}
			}
		}
		if len(fc.Features) == 0 {
			break
		}
	}
	return items, nil
}

func (c *Client) searchPage(ctx context.Context, method, target string, payload []byte) (featureCollection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return featureCollection{}, err
	}
	var rdr io.Reader
	if method == http.MethodPost {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return featureCollection{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.startNow()
	resp, err := c.http.Do(req)
	if err != nil {
		return featureCollection{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("stac_search", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return featureCollection{}, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b))
	}
	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return featureCollection{}, fmt.Errorf("decode search: %w", err)
	}
	return fc, nil
}
