package hazard

import (
	"strings"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

// Lookup tables from backend labels (English and Indonesian, after
// normalizeLabel) to the closed enumerations.
var categoryLabels = map[string]models.Category{
	"earthquake":           models.CategoryEarthquake,
	"gempa":                models.CategoryEarthquake,
	"gempa bumi":           models.CategoryEarthquake,
	"gempabumi":            models.CategoryEarthquake,
	"tsunami":              models.CategoryTsunami,
	"flood":                models.CategoryFlood,
	"banjir":               models.CategoryFlood,
	"landslide":            models.CategoryLandslide,
	"longsor":              models.CategoryLandslide,
	"tanah longsor":        models.CategoryLandslide,
	"volcanic eruption":    models.CategoryVolcanicEruption,
	"volcano":              models.CategoryVolcanicEruption,
	"erupsi":               models.CategoryVolcanicEruption,
	"letusan gunung api":   models.CategoryVolcanicEruption,
	"letusan gunungapi":    models.CategoryVolcanicEruption,
	"gunung meletus":       models.CategoryVolcanicEruption,
	"erupsi gunung api":    models.CategoryVolcanicEruption,
	"erupsi gunung berapi": models.CategoryVolcanicEruption,
}

var tierLabels = map[string]models.Tier{
	"potential hazard": models.TierPotentialHazard,
	"potensi bahaya":   models.TierPotentialHazard,
	"disaster risk":    models.TierDisasterRisk,
	"resiko bencana":   models.TierDisasterRisk,
	"risiko bencana":   models.TierDisasterRisk,
	"historical event": models.TierHistoricalEvent,
	"riwayat bencana":  models.TierHistoricalEvent,
}

// normalizeLabel lowercases, trims and folds '_' and '-' to single spaces.
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ParseCategory maps a backend label to a Category, CategoryUnknown if the
// label is not recognised.
func ParseCategory(s string) models.Category {
	return categoryLabels[normalizeLabel(s)]
}

// ParseTier maps a free-text tier label to a Tier, TierUnknown if the label
// is not recognised.
func ParseTier(s string) models.Tier {
	return tierLabels[normalizeLabel(s)]
}

func ParseTransportMode(s string) models.TransportMode {
	switch normalizeLabel(s) {
	case "driving", "car", "mobil":
		return models.TransportDriving
	case "walking", "foot", "jalan kaki":
		return models.TransportWalking
	case "cycling", "bicycle", "sepeda":
		return models.TransportCycling
	default:
		return ""
	}
}
