// Package invalidation describes scene-ingest events that make cached
// reports stale.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	OpIngest    = "ingest"
	OpReprocess = "reprocess"
	OpWithdraw  = "withdraw"
)

// Event announces that imagery of a collection changed over a footprint.
// Exactly one of BBox, Geometry or H3Cells carries the footprint.
type Event struct {
	Version    uint64          `json:"version"`
	Op         string          `json:"op"`
	Collection string          `json:"collection"`
	SceneID    string          `json:"scene_id,omitempty"`
	TS         time.Time       `json:"ts"`
	BBox       *BBox           `json:"bbox,omitempty"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	H3Cells    []string        `json:"h3_cells,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return errors.New("version must be >= 1")
	}
	switch e.Op {
	case OpIngest, OpReprocess, OpWithdraw:
	default:
		return fmt.Errorf("op must be %s|%s|%s", OpIngest, OpReprocess, OpWithdraw)
	}
	if strings.TrimSpace(e.Collection) == "" {
		return errors.New("collection is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	n := 0
	if e.BBox != nil {
		n++
	}
	if len(e.Geometry) > 0 {
		n++
	}
	if len(e.H3Cells) > 0 {
		n++
	}
	if n != 1 {
		return errors.New("exactly one of bbox, geometry or h3_cells is required")
	}
	switch {
	case e.BBox != nil:
		bb := *e.BBox
		if bb.SRID != "EPSG:4326" {
			return errors.New("bbox.srid must be EPSG:4326")
		}
		if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
			return errors.New("bbox longitude out of range")
		}
		if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
			return errors.New("bbox latitude out of range")
		}
		if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
			return errors.New("bbox must satisfy x2>x1 and y2>y1")
		}
	case len(e.Geometry) > 0:
		// quick GeoJSON Polygon/MultiPolygon header check
		var hdr struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(e.Geometry, &hdr); err != nil {
			return fmt.Errorf("geometry parse: %w", err)
		}
		if hdr.Type != "Polygon" && hdr.Type != "MultiPolygon" {
			return errors.New("geometry.type must be Polygon or MultiPolygon")
		}
	default:
		for _, c := range e.H3Cells {
			if strings.TrimSpace(c) == "" {
				return errors.New("h3_cells must not contain empty cells")
			}
		}
	}
	return nil
}

// DedupeKey groups redeliveries of the same change; later versions win.
func (e Event) DedupeKey() string {
	coll := strings.ToLower(strings.TrimSpace(e.Collection))
	if e.SceneID != "" {
		return coll + "|scene|" + e.SceneID
	}
	switch {
	case e.BBox != nil:
		return fmt.Sprintf("%s|bbox|%g,%g,%g,%g", coll, e.BBox.X1, e.BBox.Y1, e.BBox.X2, e.BBox.Y2)
	case len(e.H3Cells) > 0:
		cells := append([]string(nil), e.H3Cells...)
		sort.Strings(cells)
		return coll + "|cells|" + strings.Join(cells, ",")
	default:
		return coll + "|geom|" + string(e.Geometry)
	}
}
