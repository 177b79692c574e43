// Package mapper converts lake positions, ring loops and ingest footprints to H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

type Interface interface {
	LakeCell(p model.LatLng, res int) (string, error)
	CellsForLoop(outer, hole []model.LatLng, res int) (model.Cells, error)
	CellsForBBox(bb model.BBox, res int) (model.Cells, error)
	CellsForPolygon(poly model.Polygon, res int) (model.Cells, error)
}
