package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "error opening database")
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, eris.Wrap(err, "error while pinging database")
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, eris.Wrap(err, "error while migrating database")
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS hazards (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			category TEXT NOT NULL,
			tier TEXT NOT NULL,
			raw_tier TEXT NOT NULL,
			title TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			occurred_at INTEGER,
			attributes TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			hazard_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			distance_m REAL NOT NULL,
			radius_m REAL NOT NULL,
			origin_lat REAL NOT NULL,
			origin_lon REAL NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (hazard_id) REFERENCES hazards(id)
		);

		CREATE INDEX IF NOT EXISTS idx_hazards_occurred_at ON hazards(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_hazards_category ON hazards(category);
		CREATE INDEX IF NOT EXISTS idx_hazards_tier ON hazards(tier);
		CREATE INDEX IF NOT EXISTS idx_hazards_lat_lon ON hazards(latitude, longitude);
		CREATE INDEX IF NOT EXISTS idx_alerts_hazard_id ON alerts(hazard_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const hazardColumns = `id, source, category, tier, raw_tier, title, latitude, longitude, occurred_at, attributes, created_at`

func (s *SQLiteDB) Add(ctx context.Context, h *models.HazardRecord) error {
	attrs, err := encodeAttributes(h.Attributes)
	if err != nil {
		return err
	}

	var lat, lon sql.NullFloat64
	if h.Coordinate != nil {
		lat = sql.NullFloat64{Float64: h.Coordinate.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: h.Coordinate.Longitude, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hazards (`+hazardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Source, string(h.Category), string(h.Tier), h.RawTier, h.Title,
		lat, lon, nullMillis(h.OccurredAt), attrs, h.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return eris.Wrapf(err, "repository: add hazard %s", h.ID)
	}
	return nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.HazardRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+hazardColumns+` FROM hazards WHERE id = ?`, id)
	h, err := scanHazard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "hazard %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get hazard %s", id)
	}
	return h, nil
}

func (s *SQLiteDB) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM hazards WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "repository: exists %s", id)
	}
	return n > 0, nil
}

func (s *SQLiteDB) ListHazards(ctx context.Context, opts Filter) ([]models.HazardRecord, error) {
	var (
		where []string
		args  []any
	)
	if len(opts.Categories) > 0 {
		where = append(where, "category IN ("+placeholders(len(opts.Categories))+")")
		for _, c := range opts.Categories {
			args = append(args, string(c))
		}
	}
	if len(opts.Tiers) > 0 {
		where = append(where, "tier IN ("+placeholders(len(opts.Tiers))+")")
		for _, t := range opts.Tiers {
			args = append(args, string(t))
		}
	}
	if opts.Since != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		where = append(where, "occurred_at < ?")
		args = append(args, opts.Until.UnixMilli())
	}

	query := `SELECT ` + hazardColumns + ` FROM hazards`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	return s.queryHazards(ctx, query, args...)
}

// BufferQuery narrows candidates with a bounding box in SQL and then applies
// the exact haversine test.
func (s *SQLiteDB) BufferQuery(ctx context.Context, q BufferQuery) ([]models.HazardRecord, error) {
	box := boundingBox(q.Origin, q.RadiusMeters)

	where := []string{"latitude IS NOT NULL", "longitude IS NOT NULL", "latitude BETWEEN ? AND ?"}
	args := []any{box.MinLat, box.MaxLat}
	if !box.AllLongitudes {
		where = append(where, "longitude BETWEEN ? AND ?")
		args = append(args, box.MinLon, box.MaxLon)
	}
	if len(q.Tiers) > 0 {
		where = append(where, "tier IN ("+placeholders(len(q.Tiers))+")")
		for _, t := range q.Tiers {
			args = append(args, string(t))
		}
	}

	query := `SELECT ` + hazardColumns + ` FROM hazards WHERE ` + strings.Join(where, " AND ") + ` ORDER BY occurred_at DESC, id`
	candidates, err := s.queryHazards(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	origin := q.Origin
	nearby := hazard.FindNearby(&origin, candidates, q.RadiusMeters)
	if q.Limit > 0 && len(nearby) > q.Limit {
		nearby = nearby[:q.Limit]
	}
	return nearby, nil
}

func (s *SQLiteDB) queryHazards(ctx context.Context, query string, args ...any) ([]models.HazardRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repository: query hazards")
	}
	defer rows.Close()

	hazards := make([]models.HazardRecord, 0)
	for rows.Next() {
		h, err := scanHazard(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan hazard")
		}
		hazards = append(hazards, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "repository: iterate hazards")
	}
	return hazards, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHazard(row rowScanner) (*models.HazardRecord, error) {
	var (
		h              models.HazardRecord
		category, tier string
		lat, lon       sql.NullFloat64
		occurredAt     sql.NullInt64
		attrs          sql.NullString
		createdAt      int64
	)
	if err := row.Scan(&h.ID, &h.Source, &category, &tier, &h.RawTier, &h.Title,
		&lat, &lon, &occurredAt, &attrs, &createdAt); err != nil {
		return nil, err
	}

	h.Category = models.Category(category)
	h.Tier = models.Tier(tier)
	if lat.Valid && lon.Valid {
		h.Coordinate = &models.GeoPoint{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if occurredAt.Valid {
		h.OccurredAt = time.UnixMilli(occurredAt.Int64).UTC()
	}
	h.CreatedAt = time.UnixMilli(createdAt).UTC()
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &h.Attributes); err != nil {
			return nil, eris.Wrapf(err, "decode attributes of %s", h.ID)
		}
	}
	return &h, nil
}

func (s *SQLiteDB) AddAlert(ctx context.Context, a *models.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, hazard_id, severity, distance_m, radius_m, origin_lat, origin_lon, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.HazardID, string(a.Severity), a.DistanceMeters, a.RadiusMeters,
		a.Origin.Latitude, a.Origin.Longitude, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return eris.Wrapf(err, "repository: add alert %s", a.ID)
	}
	return nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hazard_id, severity, distance_m, radius_m, origin_lat, origin_lon, created_at
		 FROM alerts ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "repository: list alerts")
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		var (
			a         models.Alert
			severity  string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.HazardID, &severity, &a.DistanceMeters, &a.RadiusMeters,
			&a.Origin.Latitude, &a.Origin.Longitude, &createdAt); err != nil {
			return nil, eris.Wrap(err, "repository: scan alert")
		}
		a.Severity = models.AlertSeverity(severity)
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "repository: iterate alerts")
	}
	return alerts, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func encodeAttributes(attrs map[string]any) (sql.NullString, error) {
	if len(attrs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "repository: encode attributes")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// bbox is a latitude/longitude window that contains every point within a
// given great-circle distance of its center.
type bbox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	AllLongitudes  bool
}

func boundingBox(center models.GeoPoint, radiusMeters float64) bbox {
	// angular radius, padded slightly for float error at the boundary
	r := radiusMeters/hazard.EarthRadiusMeters + 1e-9
	lat := center.Latitude * math.Pi / 180
	lon := center.Longitude * math.Pi / 180

	box := bbox{
		MinLat: (lat - r) * 180 / math.Pi,
		MaxLat: (lat + r) * 180 / math.Pi,
	}
	if lat+r >= math.Pi/2 || lat-r <= -math.Pi/2 || math.Sin(r) >= math.Cos(lat) {
		box.AllLongitudes = true
		return box
	}

	dLon := math.Asin(math.Sin(r) / math.Cos(lat))
	minLon, maxLon := lon-dLon, lon+dLon
	if minLon < -math.Pi || maxLon > math.Pi {
		box.AllLongitudes = true
		return box
	}
	box.MinLon = minLon * 180 / math.Pi
	box.MaxLon = maxLon * 180 / math.Pi
	return box
}
