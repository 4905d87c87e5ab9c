package hazard

import (
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

// SeverityFor grades a hazard by how deep inside the alert radius it sits.
func SeverityFor(distanceMeters, radiusMeters float64) models.AlertSeverity {
	if radiusMeters <= 0 {
		return models.AlertSeverityCritical
	}
	ratio := distanceMeters / radiusMeters
	switch {
	case ratio <= 0.25:
		return models.AlertSeverityCritical
	case ratio <= 0.5:
		return models.AlertSeverityHigh
	case ratio <= 0.75:
		return models.AlertSeverityModerate
	default:
		return models.AlertSeverityLow
	}
}

// AlertFor builds an alert when h lies within radiusMeters of origin.
func AlertFor(origin models.GeoPoint, h *models.HazardRecord, radiusMeters float64, now time.Time) (*models.Alert, bool) {
	if !Within(origin, h, radiusMeters) {
		return nil, false
	}
	d := Distance(origin, *h.Coordinate)
	return &models.Alert{
		ID:             uuid.NewString(),
		HazardID:       h.ID,
		Severity:       SeverityFor(d, radiusMeters),
		DistanceMeters: d,
		RadiusMeters:   radiusMeters,
		Origin:         origin,
		CreatedAt:      now,
	}, true
}
