package repository

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

var ErrNotFound = eris.New("repository: not found")

// Filter narrows a listing before the engine applies exact filter
// semantics. It must never exclude a record the engine would keep.
type Filter struct {
	Limit      int
	Offset     int
	Categories []models.Category
	Tiers      []models.Tier
	Since      *time.Time // inclusive
	Until      *time.Time // exclusive
}

// FilterFor derives a store pre-filter from a FilterSpec. The date window is
// widened to whole days in the spec's location.
func FilterFor(spec hazard.FilterSpec, loc *time.Location) Filter {
	f := Filter{
		Categories: spec.Categories.Values(),
		Tiers:      spec.Tiers.Values(),
	}
	if spec.DateRange != nil {
		if loc == nil {
			loc = time.UTC
		}
		if spec.Location != nil {
			loc = spec.Location
		}
		since := startOfDay(spec.DateRange.Start, loc)
		until := startOfDay(spec.DateRange.End, loc).AddDate(0, 0, 1)
		f.Since, f.Until = &since, &until
	}
	return f
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// BufferQuery asks the store for records within RadiusMeters of Origin on
// the given tier layers. No tiers means every layer.
type BufferQuery struct {
	Origin       models.GeoPoint
	RadiusMeters float64
	Tiers        []models.Tier
	Limit        int
}

// BufferQueryFrom converts a wire-level buffer request.
func BufferQueryFrom(req hazard.BufferRequest) (BufferQuery, error) {
	origin, ok := req.Origin()
	if !ok {
		return BufferQuery{}, hazard.ErrNoOrigin
	}
	if req.Radius < 0 || math.IsNaN(req.Radius) || math.IsInf(req.Radius, 0) {
		return BufferQuery{}, eris.Wrapf(hazard.ErrInvalidRadius, "radius %v", req.Radius)
	}
	return BufferQuery{
		Origin:       origin,
		RadiusMeters: req.Radius,
		Tiers:        req.LayerTiers(),
	}, nil
}

type HazardRepository interface {
	Add(ctx context.Context, h *models.HazardRecord) error
	GetByID(ctx context.Context, id string) (*models.HazardRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	ListHazards(ctx context.Context, opts Filter) ([]models.HazardRecord, error)
	BufferQuery(ctx context.Context, q BufferQuery) ([]models.HazardRecord, error)
}

type AlertRepository interface {
	AddAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

// Store is what the service wires: both repositories plus lifecycle.
type Store interface {
	HazardRepository
	AlertRepository
	Close() error
}
