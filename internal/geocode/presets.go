// Package geocode resolves lake names to water body references.
package geocode

import (
	"strings"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
)

type Preset struct {
	Label string // shown in the UI
	Lake  model.WaterBody
}

func preset(label string, lat, lng float64) Preset {
	name, _, _ := strings.Cut(label, ",")
	return Preset{Label: label, Lake: model.WaterBody{Name: name, Point: &model.LatLng{Lat: lat, Lng: lng}}}
}

// Presets are the lakes offered without a geocoder round trip.
func Presets() []Preset {
	return []Preset{
		preset("Pichola, Udaipur, India", 24.572, 73.679),
		preset("Chilika, Odisha, India", 19.5, 85.3),
		preset("Tungabhadra, Karnataka, India", 15.3, 76.333),
		preset("Sukhna, Chandigarh, India", 30.733, 76.817),
	}
}

// FindPreset matches a lake name or full label, ignoring case.
func FindPreset(name string) (model.WaterBody, bool) {
	name = strings.TrimSpace(name)
	for _, p := range Presets() {
		if strings.EqualFold(p.Label, name) || strings.EqualFold(p.Lake.Name, name) {
			return p.Lake, true
		}
	}
	return model.WaterBody{}, false
}
