package geometry

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

func TestParseOutline_Shapes(t *testing.T) {
	poly := `{"type":"Polygon","coordinates":[[[73.67,24.56],[73.69,24.56],[73.69,24.58],[73.67,24.58],[73.67,24.56]]]}`
	cases := map[string]string{
		"polygon":    poly,
		"feature":    `{"type":"Feature","properties":{},"geometry":` + poly + `}`,
		"collection": `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]}},{"type":"Feature","geometry":` + poly + `}]}`,
		"multi": `{"type":"MultiPolygon","coordinates":[
			[[[73.0,24.0],[73.001,24.0],[73.001,24.001],[73.0,24.0]]],
			[[[73.67,24.56],[73.69,24.56],[73.69,24.58],[73.67,24.58],[73.67,24.56]]]]}`,
	}
	for name, raw := range cases {
		ll, err := ParseOutline([]byte(raw))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(ll) != 5 || ll[0].Lng != 73.67 || ll[0].Lat != 24.56 {
			t.Fatalf("%s: outline=%v", name, ll)
		}
		if _, err := Build(model.WaterBody{Name: name, Outline: ll}, config.Rings{Breakpoints: []float64{100, 500}}); err != nil {
			t.Fatalf("%s: build: %v", name, err)
		}
	}
}

func TestParseOutline_Rejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"Point","coordinates":[1,2]}`,
		`{"type":"Polygon","coordinates":[]}`,
		`{"type":"Polygon","coordinates":[[[1]]]}`,
		`{"type":"Feature"}`,
	} {
		if _, err := ParseOutline([]byte(raw)); !errors.Is(err, model.ErrInvalidGeometry) {
			t.Fatalf("%s: want ErrInvalidGeometry, got %v", raw, err)
		}
	}
}
