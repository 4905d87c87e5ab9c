package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	internalgrpc "github.com/mr1hm/go-hazard-alerts/internal/grpc"
	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
	"github.com/mr1hm/go-hazard-alerts/internal/observability"
	"github.com/mr1hm/go-hazard-alerts/internal/repository"
)

const (
	defaultLimit = 20
	maxLimit     = 500

	NearbyCountHeader = "X-Nearby-Count"
	geoJSONType       = "application/geo+json"
)

type Handler struct {
	repo        repository.HazardRepository
	broadcaster *internalgrpc.Broadcaster
	metrics     *observability.Collector
	engine      config.EngineConfig
}

func NewHandler(repo repository.HazardRepository, broadcaster *internalgrpc.Broadcaster, metrics *observability.Collector, engine config.EngineConfig) *Handler {
	if engine.AlertRadiusMeters <= 0 {
		engine.AlertRadiusMeters = hazard.DefaultAlertRadiusMeters
	}
	if engine.DateLocation == nil {
		engine.DateLocation = time.UTC
	}
	return &Handler{
		repo:        repo,
		broadcaster: broadcaster,
		metrics:     metrics,
		engine:      engine,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/hazards", h.getHazards)
	r.GET("/api/hazards/nearby", h.getNearby)
	r.GET("/api/hazards/:id", h.getHazard)
	r.POST("/api/buffer/request", h.bufferRequest)
	r.POST("/api/buffer/filter", h.bufferFilter)
	r.POST("/api/selection/toggle", h.toggleSelection)
	r.GET("/health", h.health)
	r.POST("/api/debug/test-hazard", h.createTestHazard)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
}

func queryFromURL(c *gin.Context) (hazard.Query, error) {
	q := hazard.Query{
		Categories: c.QueryArray("category"),
		Tiers:      c.QueryArray("tier"),
		Start:      c.Query("start"),
		End:        c.Query("end"),
	}

	var err error
	if q.RadiusKm, err = queryFloat(c, "radius_km"); err != nil {
		return q, err
	}
	if q.Lat, err = queryFloat(c, "lat"); err != nil {
		return q, err
	}
	if q.Lon, err = queryFloat(c, "lon"); err != nil {
		return q, err
	}
	return q, nil
}

// parse turns a query into a validated spec and the optional origin.
func (h *Handler) parse(q hazard.Query) (hazard.FilterSpec, *models.GeoPoint, error) {
	origin, err := q.Origin()
	if err != nil {
		return hazard.FilterSpec{}, nil, err
	}
	spec, err := q.Spec(h.engine.DateLocation, h.engine.MaxSearchRadiusKm)
	if err != nil {
		return hazard.FilterSpec{}, nil, err
	}
	return spec, origin, nil
}

func (h *Handler) getHazards(c *gin.Context) {
	q, err := queryFromURL(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	spec, origin, err := h.parse(q)
	if err != nil {
		badRequest(c, err)
		return
	}

	limit := defaultLimit // Default to 20 hazards if limit param not supplied
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxLimit {
			limit = lim
		}
	}

	hazards, err := h.repo.ListHazards(c.Request.Context(), repository.FilterFor(spec, h.engine.DateLocation))
	if err != nil {
		slog.Error("failed to list hazards", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch hazards",
		})
		return
	}

	filtered := hazard.ApplyFilters(hazards, spec, origin)
	h.metrics.ObserveFilter("http")
	h.setNearbyCount(c, origin, filtered)

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	c.Header("Content-Type", geoJSONType)
	c.JSON(http.StatusOK, toGeoJSON(filtered))
}

// setNearbyCount reports how many of the returned hazards sit inside the
// alert radius. Without an origin the header is omitted.
func (h *Handler) setNearbyCount(c *gin.Context, origin *models.GeoPoint, hazards []models.HazardRecord) {
	if origin == nil {
		return
	}
	report := hazard.Assess(origin, hazards, h.engine.AlertRadiusMeters)
	h.metrics.ObserveNearby(report.Present)
	c.Header(NearbyCountHeader, strconv.Itoa(report.Count))
}

func (h *Handler) getNearby(c *gin.Context) {
	var q hazard.Query
	var err error
	if q.Lat, err = queryFloat(c, "lat"); err != nil {
		badRequest(c, err)
		return
	}
	if q.Lon, err = queryFloat(c, "lon"); err != nil {
		badRequest(c, err)
		return
	}
	origin, err := q.Origin()
	if err != nil {
		badRequest(c, err)
		return
	}

	radius := h.engine.AlertRadiusMeters
	r, err := queryFloat(c, "radius_m")
	if err != nil {
		badRequest(c, err)
		return
	}
	if r != nil {
		if *r < 0 || math.IsNaN(*r) || math.IsInf(*r, 0) {
			badRequest(c, eris.Wrapf(hazard.ErrInvalidRadius, "radius_m %v", *r))
			return
		}
		if limit := h.engine.MaxSearchRadiusKm * 1000; limit > 0 && *r > limit {
			badRequest(c, eris.Wrapf(hazard.ErrInvalidRadius, "radius_m %v exceeds maximum %v", *r, limit))
			return
		}
		radius = *r
	}

	// No position is not the same as nothing nearby, but the banner stays off.
	if origin == nil {
		c.JSON(http.StatusOK, gin.H{
			"nearby":   false,
			"count":    0,
			"radius_m": radius,
			"hazards":  toGeoJSON(nil),
		})
		return
	}

	candidates, err := h.repo.BufferQuery(c.Request.Context(), repository.BufferQuery{
		Origin:       *origin,
		RadiusMeters: radius,
	})
	if err != nil {
		slog.Error("nearby query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch nearby hazards",
		})
		return
	}

	report := hazard.Assess(origin, candidates, radius)
	h.metrics.ObserveNearby(report.Present)

	c.JSON(http.StatusOK, gin.H{
		"nearby":   report.Present,
		"count":    report.Count,
		"radius_m": radius,
		"hazards":  toGeoJSON(hazard.SortByDistance(*origin, report.Hazards)),
	})
}

func (h *Handler) getHazard(c *gin.Context) {
	id := c.Param("id")

	record, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("hazard not found: %s", id)})
		return
	}
	if err != nil {
		slog.Error("failed to get hazard", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch hazard"})
		return
	}

	c.Header("Content-Type", geoJSONType)
	c.JSON(http.StatusOK, toFeature(record))
}

func (h *Handler) bufferRequest(c *gin.Context) {
	var req hazard.Query
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, eris.Wrap(err, "invalid request body"))
		return
	}
	spec, origin, err := h.parse(req)
	if err != nil {
		badRequest(c, err)
		return
	}

	br, err := spec.BufferRequest(origin, req.Layers)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, br)
}

// bufferFilter runs the spatial part of the query in the store and the
// rest of the predicates locally.
func (h *Handler) bufferFilter(c *gin.Context) {
	var req hazard.Query
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, eris.Wrap(err, "invalid request body"))
		return
	}
	spec, origin, err := h.parse(req)
	if err != nil {
		badRequest(c, err)
		return
	}

	br, err := spec.BufferRequest(origin, req.Layers)
	if err != nil {
		badRequest(c, err)
		return
	}
	q, err := repository.BufferQueryFrom(br)
	if err != nil {
		badRequest(c, err)
		return
	}

	records, err := h.repo.BufferQuery(c.Request.Context(), q)
	if err != nil {
		slog.Error("buffer query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to run buffer query",
		})
		return
	}

	filtered := hazard.PostFilter(records, spec)
	h.metrics.ObserveFilter("buffer")
	h.setNearbyCount(c, origin, filtered)

	c.Header("Content-Type", geoJSONType)
	c.JSON(http.StatusOK, toGeoJSON(filtered))
}

type toggleRequest struct {
	Dimension string   `json:"dimension" binding:"required,oneof=category tier transport"`
	Selected  []string `json:"selected"`
	Value     string   `json:"value" binding:"required"`
}

func (h *Handler) toggleSelection(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, eris.Wrap(err, "invalid request body"))
		return
	}

	var selected []string
	var err error
	switch req.Dimension {
	case "category":
		selected, err = applyToggle(req.Selected, req.Value, hazard.ParseCategory)
	case "tier":
		selected, err = applyToggle(req.Selected, req.Value, hazard.ParseTier)
	default:
		selected, err = applyToggle(req.Selected, req.Value, hazard.ParseTransportMode)
	}
	if err != nil {
		badRequest(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dimension": req.Dimension,
		"selected":  selected,
	})
}

type label interface {
	~string
	Known() bool
}

// applyToggle replays the submitted selection, applies one more toggle and
// renders the result back to tokens.
func applyToggle[T label](tokens []string, value string, parse func(string) T) ([]string, error) {
	s := hazard.ParseSelection(tokens, parse)
	for _, v := range s.Values() {
		if !v.Known() {
			return nil, eris.New("selection contains an unknown value")
		}
	}

	if strings.EqualFold(strings.TrimSpace(value), hazard.AllToken) {
		s = s.SelectAll()
	} else {
		v := parse(value)
		if !v.Known() {
			return nil, eris.Errorf("unknown value %q", value)
		}
		s = s.Toggle(v)
	}

	if s.All() {
		return []string{hazard.AllToken}, nil
	}
	values := s.Values()
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out, nil
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type testHazardRequest struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Category  string  `json:"category"`
}

func (h *Handler) createTestHazard(c *gin.Context) {
	var req testHazardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, eris.Wrap(err, "invalid request body"))
		return
	}

	category := hazard.ParseCategory(req.Category)
	if !category.Known() {
		category = models.CategoryEarthquake
	}
	now := time.Now()
	record := &models.HazardRecord{
		ID:         fmt.Sprintf("test_%d", now.UnixNano()),
		Source:     "TEST",
		Category:   category,
		Tier:       models.TierPotentialHazard,
		RawTier:    models.TierPotentialHazard.SourceName(),
		Title:      "Test hazard",
		Coordinate: &models.GeoPoint{Latitude: req.Latitude, Longitude: req.Longitude},
		OccurredAt: now,
		CreatedAt:  now,
	}

	// Broadcast only - don't persist test data to DB
	if h.broadcaster != nil {
		h.broadcaster.Broadcast(record)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "test hazard broadcast (not persisted)",
		"id":      record.ID,
	})
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid %s", key)
	}
	return &v, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
