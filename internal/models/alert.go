package models

import "time"

type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "LOW"
	AlertSeverityModerate AlertSeverity = "MODERATE"
	AlertSeverityHigh     AlertSeverity = "HIGH"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Alert records that a hazard was found inside a subscriber's alert radius.
type Alert struct {
	ID             string
	HazardID       string
	Severity       AlertSeverity
	DistanceMeters float64
	RadiusMeters   float64
	Origin         GeoPoint
	CreatedAt      time.Time
}
