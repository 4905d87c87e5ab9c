// Package hazard holds the proximity detector and filter engine. Every
// function in it is pure: inputs are treated as read-only snapshots, so the
// package is safe to call from any number of goroutines without locking.
package hazard

import (
	"math"
	"sort"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
	EarthRadiusMeters = 6371000.0

	// DefaultAlertRadiusMeters is the real-time "danger nearby" threshold.
	DefaultAlertRadiusMeters = 500.0
)

// Distance returns the great-circle distance in meters between a and b.
// Non-finite inputs yield NaN, which fails every radius comparison.
func Distance(a, b models.GeoPoint) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(h, 1)

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Within reports whether the hazard has a coordinate no farther than
// radiusMeters from origin.
func Within(origin models.GeoPoint, h *models.HazardRecord, radiusMeters float64) bool {
	if h == nil || h.Coordinate == nil {
		return false
	}
	return Distance(origin, *h.Coordinate) <= radiusMeters
}

// FindNearby returns the hazards within radiusMeters of origin, in input
// order. A nil origin yields an empty result.
func FindNearby(origin *models.GeoPoint, hazards []models.HazardRecord, radiusMeters float64) []models.HazardRecord {
	result := make([]models.HazardRecord, 0)
	if origin == nil {
		return result
	}
	for i := range hazards {
		if Within(*origin, &hazards[i], radiusMeters) {
			result = append(result, hazards[i])
		}
	}
	return result
}

// NearbyReport is what alerting surfaces need to decide on a banner.
type NearbyReport struct {
	Hazards      []models.HazardRecord
	Count        int
	Present      bool
	RadiusMeters float64
}

func Assess(origin *models.GeoPoint, hazards []models.HazardRecord, radiusMeters float64) NearbyReport {
	nearby := FindNearby(origin, hazards, radiusMeters)
	return NearbyReport{
		Hazards:      nearby,
		Count:        len(nearby),
		Present:      len(nearby) > 0,
		RadiusMeters: radiusMeters,
	}
}

// SortByDistance returns a copy of hazards ordered nearest first. Records
// without a coordinate sort last, keeping their relative order.
func SortByDistance(origin models.GeoPoint, hazards []models.HazardRecord) []models.HazardRecord {
	sorted := make([]models.HazardRecord, len(hazards))
	copy(sorted, hazards)

	dist := func(h *models.HazardRecord) float64 {
		if h.Coordinate == nil {
			return math.Inf(1)
		}
		d := Distance(origin, *h.Coordinate)
		if math.IsNaN(d) {
			return math.Inf(1)
		}
		return d
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return dist(&sorted[i]) < dist(&sorted[j])
	})
	return sorted
}
