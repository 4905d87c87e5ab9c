package api

import (
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

// toGeoJSON renders hazards as a FeatureCollection. Records without a
// coordinate keep a null geometry so list views still show them.
func toGeoJSON(hazards []models.HazardRecord) *geojson.FeatureCollection {
	features := make([]*geojson.Feature, 0, len(hazards))

	for i := range hazards {
		features = append(features, toFeature(&hazards[i]))
	}

	return &geojson.FeatureCollection{
		Features: features,
	}
}

func toFeature(h *models.HazardRecord) *geojson.Feature {
	f := &geojson.Feature{
		ID: h.ID,
		Properties: map[string]any{
			"id":         h.ID,
			"category":   string(h.Category),
			"tier":       string(h.Tier),
			"title":      h.Title,
			"source":     h.Source,
			"created_at": h.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
	if !h.OccurredAt.IsZero() {
		f.Properties["occurred_at"] = h.OccurredAt.Format(time.RFC3339)
	}
	if len(h.Attributes) > 0 {
		f.Properties["attributes"] = h.Attributes
	}
	if h.Coordinate != nil {
		f.Geometry = geom.NewPointFlat(geom.XY, []float64{h.Coordinate.Longitude, h.Coordinate.Latitude})
	}
	return f
}
