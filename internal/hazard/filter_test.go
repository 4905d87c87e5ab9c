package hazard

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func record(id string, c models.Category, tier models.Tier, occurred string) models.HazardRecord {
	r := models.HazardRecord{ID: id, Category: c, Tier: tier}
	if occurred != "" {
		r.OccurredAt = day(occurred)
	}
	return r
}

func mustSpec(t *testing.T, c Selection[models.Category], tier Selection[models.Tier], opts ...FilterOption) FilterSpec {
	t.Helper()
	spec, err := NewFilterSpec(c, tier, opts...)
	require.NoError(t, err)
	return spec
}

func TestApplyFilters_EarthquakeOnly(t *testing.T) {
	hazards := []models.HazardRecord{
		record("eq", models.CategoryEarthquake, models.TierDisasterRisk, "2025-02-14"),
		record("fl", models.CategoryFlood, models.TierPotentialHazard, "2025-02-14"),
	}
	spec := mustSpec(t,
		Select(models.CategoryEarthquake),
		SelectAll[models.Tier](),
		WithDateRange(day("2025-02-01"), day("2025-02-28")),
	)

	got := ApplyFilters(hazards, spec, nil)
	assert.Equal(t, []string{"eq"}, ids(got))
}

func TestApplyFilters_DateBoundariesInclusive(t *testing.T) {
	hazards := []models.HazardRecord{
		record("before", models.CategoryFlood, models.TierDisasterRisk, "2025-01-31"),
		record("start", models.CategoryFlood, models.TierDisasterRisk, "2025-02-01"),
		record("end", models.CategoryFlood, models.TierDisasterRisk, "2025-02-28"),
		record("after", models.CategoryFlood, models.TierDisasterRisk, "2025-03-01"),
	}
	// Late on the end day still counts: comparison is by calendar day.
	hazards[2].OccurredAt = hazards[2].OccurredAt.Add(23*time.Hour + 59*time.Minute)

	spec := mustSpec(t, SelectAll[models.Category](), SelectAll[models.Tier](),
		WithDateRange(day("2025-02-01").Add(15*time.Hour), day("2025-02-28")))

	assert.Equal(t, []string{"start", "end"}, ids(ApplyFilters(hazards, spec, nil)))
}

func TestApplyFilters_DateUsesSpecLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	// 20:00 UTC on Feb 28 is already Mar 1 in Jakarta.
	h := models.HazardRecord{ID: "late", Category: models.CategoryFlood, OccurredAt: time.Date(2025, 2, 28, 20, 0, 0, 0, time.UTC)}

	utc := mustSpec(t, SelectAll[models.Category](), SelectAll[models.Tier](),
		WithDateRange(day("2025-02-01"), day("2025-02-28")))
	assert.Len(t, ApplyFilters([]models.HazardRecord{h}, utc, nil), 1)

	wib := mustSpec(t, SelectAll[models.Category](), SelectAll[models.Tier](),
		WithDateRange(time.Date(2025, 2, 1, 0, 0, 0, 0, jakarta), time.Date(2025, 2, 28, 0, 0, 0, 0, jakarta)),
		WithLocation(jakarta))
	assert.Empty(t, ApplyFilters([]models.HazardRecord{h}, wib, nil))
}

func TestApplyFilters_MissingFieldsFailPredicates(t *testing.T) {
	hazards := []models.HazardRecord{
		{ID: "no-date", Category: models.CategoryFlood, Tier: models.TierDisasterRisk},
		{ID: "unknown-cat", Category: models.Category("wildfire"), Tier: models.TierDisasterRisk, OccurredAt: day("2025-02-10")},
		{ID: "unknown-tier", Category: models.CategoryFlood, Tier: models.TierUnknown, OccurredAt: day("2025-02-10")},
		{ID: "ok", Category: models.CategoryFlood, Tier: models.TierDisasterRisk, OccurredAt: day("2025-02-10")},
	}

	withDate := mustSpec(t, SelectAll[models.Category](), SelectAll[models.Tier](),
		WithDateRange(day("2025-02-01"), day("2025-02-28")))
	assert.Equal(t, []string{"unknown-cat", "unknown-tier", "ok"}, ids(ApplyFilters(hazards, withDate, nil)))

	specific := mustSpec(t, ParseSelection([]string{"flood", "wildfire"}, ParseCategory), Select(models.TierDisasterRisk))
	assert.Equal(t, []string{"no-date", "ok"}, ids(ApplyFilters(hazards, specific, nil)))
}

func TestApplyFilters_Spatial(t *testing.T) {
	origin := pt(-6.9175, 107.6191)
	hazards := []models.HazardRecord{
		hazardAt("near", -6.9176, 107.6192),
		hazardAt("3km", -6.9445, 107.6191),
		{ID: "no-coord", Category: models.CategoryEarthquake},
	}

	twoKm := mustSpec(t, SelectAll[models.Category](), SelectAll[models.Tier](), WithRadiusKm(2))
	assert.Equal(t, []string{"near"}, ids(ApplyFilters(hazards, twoKm, origin)))

	tenKm := mustSpec(t, SelectAll[models.Category](), SelectAll[models.Tier](), WithRadiusKm(10))
	assert.Equal(t, []string{"near", "3km"}, ids(ApplyFilters(hazards, tenKm, origin)))

	t.Run("radius without origin yields nothing", func(t *testing.T) {
		assert.Empty(t, ApplyFilters(hazards, tenKm, nil))
	})

	t.Run("no radius skips the spatial predicate", func(t *testing.T) {
		none := mustSpec(t, SelectAll[models.Category](), SelectAll[models.Tier]())
		assert.Len(t, ApplyFilters(hazards, none, nil), 3)
		assert.Len(t, ApplyFilters(hazards, none, origin), 3)
	})
}

func TestApplyFilters_Conjunction(t *testing.T) {
	origin := pt(0, 0)
	var hazards []models.HazardRecord
	cats := models.Categories
	tiers := models.Tiers
	for i := 0; i < 60; i++ {
		h := models.HazardRecord{
			ID:         string(rune('A' + i%26)) + string(rune('a'+i/26)),
			Category:   cats[i%len(cats)],
			Tier:       tiers[i%len(tiers)],
			Coordinate: pt(0, float64(i)*0.001),
			OccurredAt: day("2025-02-01").AddDate(0, 0, i%40),
		}
		hazards = append(hazards, h)
	}
	hazards = append(hazards, models.HazardRecord{ID: "broken"})

	full := mustSpec(t,
		Select(models.CategoryFlood, models.CategoryEarthquake),
		Select(models.TierDisasterRisk),
		WithDateRange(day("2025-02-05"), day("2025-02-25")),
		WithRadiusKm(4),
	)
	base := ApplyFilters(hazards, full, origin)
	assert.Subset(t, ids(hazards), ids(base))

	relaxed := []FilterSpec{full, full, full, full}
	relaxed[0].Categories = SelectAll[models.Category]()
	relaxed[1].Tiers = SelectAll[models.Tier]()
	relaxed[2].DateRange = nil
	relaxed[3].RadiusKm = nil

	for i, spec := range relaxed {
		got := ApplyFilters(hazards, spec, origin)
		assert.GreaterOrEqual(t, len(got), len(base), "relaxing predicate %d shrank the result", i)
		assert.Subset(t, ids(got), ids(base))
	}
}

func TestApplyFilters_DoesNotMutateInput(t *testing.T) {
	hazards := []models.HazardRecord{
		record("a", models.CategoryFlood, models.TierDisasterRisk, "2025-02-14"),
		record("b", models.CategoryTsunami, models.TierDisasterRisk, "2025-02-14"),
	}
	before := make([]models.HazardRecord, len(hazards))
	copy(before, hazards)

	spec := mustSpec(t, Select(models.CategoryTsunami), SelectAll[models.Tier]())
	_ = ApplyFilters(hazards, spec, nil)
	assert.Equal(t, before, hazards)
}

func TestNewFilterSpec_Validation(t *testing.T) {
	_, err := NewFilterSpec(SelectAll[models.Category](), SelectAll[models.Tier](),
		WithDateRange(day("2025-03-01"), day("2025-02-01")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDateRange))

	// Same day with a later start time is still a valid one-day range.
	_, err = NewFilterSpec(SelectAll[models.Category](), SelectAll[models.Tier](),
		WithDateRange(day("2025-02-01").Add(20*time.Hour), day("2025-02-01")))
	assert.NoError(t, err)

	for _, r := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err = NewFilterSpec(SelectAll[models.Category](), SelectAll[models.Tier](), WithRadiusKm(r))
		assert.True(t, errors.Is(err, ErrInvalidRadius), "radius %v", r)
	}

	_, err = NewFilterSpec(SelectAll[models.Category](), SelectAll[models.Tier](), WithRadiusKm(0))
	assert.NoError(t, err)
}
