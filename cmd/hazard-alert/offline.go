package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

const fileSource = "file"

// loadHazards decodes a saved backend payload, either a record array or a
// GeoJSON FeatureCollection.
func loadHazards(path string, loc *time.Location) (hazard.DecodeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return hazard.DecodeResult{}, eris.Wrapf(err, "read %s", path)
	}
	res, err := hazard.Decoder{Source: fileSource, Location: loc}.Decode(data)
	if err != nil {
		return hazard.DecodeResult{}, eris.Wrapf(err, "decode %s", path)
	}
	if res.Skipped > 0 {
		slog.Warn("skipped undecodable records", "file", path, "skipped", res.Skipped)
	}
	return res, nil
}

type hazardOutput struct {
	ID         string          `json:"id"`
	Category   models.Category `json:"category"`
	Tier       models.Tier     `json:"tier"`
	Title      string          `json:"title,omitempty"`
	Latitude   *float64        `json:"lat,omitempty"`
	Longitude  *float64        `json:"lon,omitempty"`
	DistanceM  *float64        `json:"distance_m,omitempty"`
	OccurredAt string          `json:"occurred_at,omitempty"`
}

func toOutput(hazards []models.HazardRecord, origin *models.GeoPoint) []hazardOutput {
	out := make([]hazardOutput, 0, len(hazards))
	for _, h := range hazards {
		o := hazardOutput{
			ID:       h.ID,
			Category: h.Category,
			Tier:     h.Tier,
			Title:    h.Title,
		}
		if h.Coordinate != nil {
			lat, lon := h.Coordinate.Latitude, h.Coordinate.Longitude
			o.Latitude, o.Longitude = &lat, &lon
			if origin != nil {
				d := hazard.Distance(*origin, *h.Coordinate)
				o.DistanceM = &d
			}
		}
		if !h.OccurredAt.IsZero() {
			o.OccurredAt = h.OccurredAt.Format(time.RFC3339)
		}
		out = append(out, o)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
