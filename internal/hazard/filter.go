package hazard

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

var (
	ErrInvalidDateRange = eris.New("hazard: date range start is after end")
	ErrInvalidRadius    = eris.New("hazard: radius must be a finite, non-negative number")
)

// DateRange is inclusive on both ends and compared at day granularity.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// FilterSpec is a complete, validated filter query. Build it with
// NewFilterSpec; a zero FilterSpec passes every record.
type FilterSpec struct {
	Categories Selection[models.Category]
	Tiers      Selection[models.Tier]
	DateRange  *DateRange
	RadiusKm   *float64

	// Location decides which calendar day a timestamp falls on. Nil means UTC.
	Location *time.Location
}

// FilterOption configures optional FilterSpec fields.
type FilterOption func(*FilterSpec)

func WithDateRange(start, end time.Time) FilterOption {
	return func(s *FilterSpec) {
		s.DateRange = &DateRange{Start: start, End: end}
	}
}

func WithRadiusKm(km float64) FilterOption {
	return func(s *FilterSpec) {
		s.RadiusKm = &km
	}
}

func WithLocation(loc *time.Location) FilterOption {
	return func(s *FilterSpec) {
		s.Location = loc
	}
}

// NewFilterSpec assembles and validates a FilterSpec. Configuration errors
// surface here rather than during filtering.
func NewFilterSpec(categories Selection[models.Category], tiers Selection[models.Tier], opts ...FilterOption) (FilterSpec, error) {
	spec := FilterSpec{
		Categories: categories,
		Tiers:      tiers,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if err := spec.Validate(); err != nil {
		return FilterSpec{}, err
	}
	return spec, nil
}

func (s FilterSpec) Validate() error {
	if s.DateRange != nil {
		start := s.day(s.DateRange.Start)
		end := s.day(s.DateRange.End)
		if start.After(end) {
			return eris.Wrapf(ErrInvalidDateRange, "start %s, end %s",
				start.Format(time.DateOnly), end.Format(time.DateOnly))
		}
	}
	if s.RadiusKm != nil {
		r := *s.RadiusKm
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return eris.Wrapf(ErrInvalidRadius, "radius_km %v", r)
		}
	}
	return nil
}

func (s FilterSpec) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// day truncates t to midnight of its calendar day in the spec's location.
func (s FilterSpec) day(t time.Time) time.Time {
	y, m, d := t.In(s.location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location())
}

func (s FilterSpec) matchCategory(h *models.HazardRecord) bool {
	if s.Categories.All() {
		return true
	}
	return h.Category.Known() && s.Categories.Contains(h.Category)
}

func (s FilterSpec) matchTier(h *models.HazardRecord) bool {
	if s.Tiers.All() {
		return true
	}
	return h.Tier.Known() && s.Tiers.Contains(h.Tier)
}

func (s FilterSpec) matchDate(h *models.HazardRecord) bool {
	if s.DateRange == nil {
		return true
	}
	if h.OccurredAt.IsZero() {
		return false
	}
	day := s.day(h.OccurredAt)
	return !day.Before(s.day(s.DateRange.Start)) && !day.After(s.day(s.DateRange.End))
}

// RadiusMeters returns the spatial radius and whether one was requested.
func (s FilterSpec) RadiusMeters() (float64, bool) {
	if s.RadiusKm == nil {
		return 0, false
	}
	return *s.RadiusKm * 1000, true
}

// Matches applies the category, tier and date predicates to one record.
// The spatial predicate needs an origin and is applied by ApplyFilters.
func (s FilterSpec) Matches(h *models.HazardRecord) bool {
	return s.matchCategory(h) && s.matchTier(h) && s.matchDate(h)
}

// ApplyFilters returns the records passing every active predicate, in input
// order. When a radius is requested but origin is nil the result is empty:
// an unknown position must not read as "nothing nearby".
func ApplyFilters(hazards []models.HazardRecord, spec FilterSpec, origin *models.GeoPoint) []models.HazardRecord {
	radius, spatial := spec.RadiusMeters()
	result := make([]models.HazardRecord, 0)
	if spatial && origin == nil {
		return result
	}

	for i := range hazards {
		h := &hazards[i]
		if !spec.Matches(h) {
			continue
		}
		if spatial && !Within(*origin, h, radius) {
			continue
		}
		result = append(result, *h)
	}
	return result
}

// PostFilter applies the local predicates to records a server-side buffer
// query has already narrowed spatially. Each record's tier is re-derived
// from its raw label; a label that does not normalise excludes the record
// regardless of the tier selection.
func PostFilter(records []models.HazardRecord, spec FilterSpec) []models.HazardRecord {
	result := make([]models.HazardRecord, 0)
	for i := range records {
		h := records[i]
		raw := h.RawTier
		if raw == "" {
			raw = string(h.Tier)
		}
		h.Tier = ParseTier(raw)
		if !h.Tier.Known() {
			continue
		}
		if !spec.Matches(&h) {
			continue
		}
		result = append(result, h)
	}
	return result
}
