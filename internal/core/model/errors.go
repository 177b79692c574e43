package model

import (
	"context"
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidGeometry  = errors.New("invalid geometry")
	ErrInsufficientData = errors.New("insufficient data")
	ErrDegenerateInput  = errors.New("degenerate input")
	ErrDataFetch        = errors.New("data fetch failed")
)

// Reason maps an error to a stable label used in reports and metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrInvalidGeometry):
		return "invalid_geometry"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrDegenerateInput):
		return "degenerate_input"
	case errors.Is(err, ErrDataFetch):
		return "data_fetch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
