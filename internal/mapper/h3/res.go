package h3mapper

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

func parseCell(s string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse cell %q: %w", s, err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", s)
	}
	return c, nil
}

// AtRes maps cells of any resolution onto res: finer cells roll up to their
// ancestor, coarser cells expand to every descendant. The result is sorted
// and free of duplicates.
func (m *Mapper) AtRes(cells []string, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	var mapped []h3.Cell
	for _, s := range cells {
		c, err := parseCell(s)
		if err != nil {
			return nil, err
		}
		switch cur := c.Resolution(); {
		case cur == res:
			mapped = append(mapped, c)
		case cur > res:
			p, err := c.Parent(res)
			if err != nil {
				return nil, fmt.Errorf("h3 parent of %s: %w", s, err)
			}
			mapped = append(mapped, p)
		default:
			kids, err := c.Children(res)
			if err != nil {
				return nil, fmt.Errorf("h3 children of %s: %w", s, err)
			}
			mapped = append(mapped, kids...)
		}
	}
	return uniqueSorted(mapped), nil
}
