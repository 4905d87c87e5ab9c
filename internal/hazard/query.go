package hazard

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

var (
	ErrInvalidOrigin = eris.New("hazard: lat and lon must be given together as finite numbers")
	ErrInvalidDate   = eris.New("hazard: dates must be YYYY-MM-DD and given as a start/end pair")
)

// Query is a filter request in wire form, as the HTTP and gRPC surfaces
// receive it. Labels are normalised and dates parsed by Spec.
type Query struct {
	Categories []string `json:"categories"`
	Tiers      []string `json:"tiers"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	RadiusKm   *float64 `json:"radius_km"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Layers     []string `json:"layers"`
}

// Origin returns the query position, nil when neither coordinate was sent.
func (q Query) Origin() (*models.GeoPoint, error) {
	if q.Lat == nil && q.Lon == nil {
		return nil, nil
	}
	if q.Lat == nil || q.Lon == nil || !finite(*q.Lat) || !finite(*q.Lon) {
		return nil, ErrInvalidOrigin
	}
	return &models.GeoPoint{Latitude: *q.Lat, Longitude: *q.Lon}, nil
}

// Spec builds a validated FilterSpec. Calendar dates are read in loc, and a
// positive maxRadiusKm caps the requested radius.
func (q Query) Spec(loc *time.Location, maxRadiusKm float64) (FilterSpec, error) {
	if loc == nil {
		loc = time.UTC
	}
	opts := []FilterOption{WithLocation(loc)}

	if q.Start != "" || q.End != "" {
		if q.Start == "" || q.End == "" {
			return FilterSpec{}, eris.Wrap(ErrInvalidDate, "start and end must be given together")
		}
		start, err := time.ParseInLocation(time.DateOnly, q.Start, loc)
		if err != nil {
			return FilterSpec{}, eris.Wrapf(ErrInvalidDate, "start %q", q.Start)
		}
		end, err := time.ParseInLocation(time.DateOnly, q.End, loc)
		if err != nil {
			return FilterSpec{}, eris.Wrapf(ErrInvalidDate, "end %q", q.End)
		}
		opts = append(opts, WithDateRange(start, end))
	}

	if q.RadiusKm != nil {
		if maxRadiusKm > 0 && *q.RadiusKm > maxRadiusKm {
			return FilterSpec{}, eris.Wrapf(ErrInvalidRadius, "radius_km %v exceeds maximum %v", *q.RadiusKm, maxRadiusKm)
		}
		opts = append(opts, WithRadiusKm(*q.RadiusKm))
	}

	return NewFilterSpec(
		ParseSelection(q.Categories, ParseCategory),
		ParseSelection(q.Tiers, ParseTier),
		opts...,
	)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
