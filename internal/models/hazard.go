package models

import "time"

type Category string

const (
	CategoryUnknown          Category = ""
	CategoryEarthquake       Category = "earthquake"
	CategoryTsunami          Category = "tsunami"
	CategoryFlood            Category = "flood"
	CategoryLandslide        Category = "landslide"
	CategoryVolcanicEruption Category = "volcanic_eruption"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryEarthquake,
	CategoryTsunami,
	CategoryFlood,
	CategoryLandslide,
	CategoryVolcanicEruption,
}

func (c Category) Known() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

type Tier string

const (
	TierUnknown         Tier = ""
	TierPotentialHazard Tier = "potential_hazard"
	TierDisasterRisk    Tier = "disaster_risk"
	TierHistoricalEvent Tier = "historical_event"
)

var Tiers = []Tier{
	TierPotentialHazard,
	TierDisasterRisk,
	TierHistoricalEvent,
}

func (t Tier) Known() bool {
	for _, k := range Tiers {
		if t == k {
			return true
		}
	}
	return false
}

// SourceName is the backend's layer name for the tier.
func (t Tier) SourceName() string {
	switch t {
	case TierPotentialHazard:
		return "potensi_bahaya"
	case TierDisasterRisk:
		return "resiko_bencana"
	case TierHistoricalEvent:
		return "riwayat_bencana"
	default:
		return ""
	}
}

type TransportMode string

const (
	TransportDriving TransportMode = "driving"
	TransportWalking TransportMode = "walking"
	TransportCycling TransportMode = "cycling"
)

var TransportModes = []TransportMode{TransportDriving, TransportWalking, TransportCycling}

func (m TransportMode) Known() bool {
	for _, k := range TransportModes {
		if m == k {
			return true
		}
	}
	return false
}

// GeoPoint is a WGS84 coordinate in degrees. Ranges are not validated.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type HazardRecord struct {
	ID         string // stable backend ID, numeric IDs rendered as decimal strings
	Source     string // ingestion source name
	Category   Category
	Tier       Tier
	RawTier    string // tier label as received, before normalization
	Title      string
	Coordinate *GeoPoint      // nil when the backend sent no usable geometry
	OccurredAt time.Time      // when the event was reported
	Attributes map[string]any // category-specific payload, passed through untouched
	CreatedAt  time.Time      // when we ingested it
}

func (h *HazardRecord) HasCoordinate() bool {
	return h.Coordinate != nil
}
