package hazard

import (
	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

const BufferTypeSimple = "simple"

var (
	ErrNoRadius = eris.New("hazard: buffer request needs a radius")
	ErrNoOrigin = eris.New("hazard: buffer request needs an origin")
)

// BufferRequest is the body of a server-side spatial buffer query. Points
// are [lon, lat] pairs and Radius is in meters.
type BufferRequest struct {
	Layers []string     `json:"layers"`
	Points [][2]float64 `json:"points"`
	Radius float64      `json:"radius"`
	Type   string       `json:"type"`
}

// Origin returns the first buffer point as a GeoPoint.
func (r BufferRequest) Origin() (models.GeoPoint, bool) {
	if len(r.Points) == 0 {
		return models.GeoPoint{}, false
	}
	return models.GeoPoint{Latitude: r.Points[0][1], Longitude: r.Points[0][0]}, true
}

// LayerTiers maps the request's layer names back to tiers, skipping names
// that are not tier layers.
func (r BufferRequest) LayerTiers() []models.Tier {
	tiers := make([]models.Tier, 0, len(r.Layers))
	for _, l := range r.Layers {
		if t := ParseTier(l); t.Known() {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// BufferRequest serializes the spatial part of the spec for a remote buffer
// query around origin. With no explicit layers, one layer per selected tier
// is requested.
func (s FilterSpec) BufferRequest(origin *models.GeoPoint, layers []string) (BufferRequest, error) {
	radius, ok := s.RadiusMeters()
	if !ok {
		return BufferRequest{}, ErrNoRadius
	}
	if origin == nil {
		return BufferRequest{}, ErrNoOrigin
	}

	if len(layers) == 0 {
		tiers := s.Tiers.Values()
		if tiers == nil {
			tiers = models.Tiers
		}
		for _, t := range tiers {
			if name := t.SourceName(); name != "" {
				layers = append(layers, name)
			}
		}
	}

	return BufferRequest{
		Layers: layers,
		Points: [][2]float64{{origin.Longitude, origin.Latitude}},
		Radius: radius,
		Type:   BufferTypeSimple,
	}, nil
}
