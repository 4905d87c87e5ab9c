package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresDB stores hazards in PostGIS and answers buffer queries with
// ST_DWithin on the sphere.
type PostgresDB struct {
	pool Pool
}

func NewPostgresDB(ctx context.Context, connString string) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	db := NewPostgresDBWithPool(pool)
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func NewPostgresDBWithPool(pool Pool) *PostgresDB {
	return &PostgresDB{pool: pool}
}

const postgresSchema = `
	CREATE EXTENSION IF NOT EXISTS postgis;

	CREATE TABLE IF NOT EXISTS hazards (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		category TEXT NOT NULL,
		tier TEXT NOT NULL,
		raw_tier TEXT NOT NULL,
		title TEXT NOT NULL,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		geom GEOGRAPHY(Point, 4326) GENERATED ALWAYS AS (
			CASE WHEN latitude IS NULL OR longitude IS NULL THEN NULL
			ELSE ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography END
		) STORED,
		occurred_at TIMESTAMPTZ,
		attributes JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		hazard_id TEXT NOT NULL REFERENCES hazards(id),
		severity TEXT NOT NULL,
		distance_m DOUBLE PRECISION NOT NULL,
		radius_m DOUBLE PRECISION NOT NULL,
		origin_lat DOUBLE PRECISION NOT NULL,
		origin_lon DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hazards_geom ON hazards USING GIST (geom);
	CREATE INDEX IF NOT EXISTS idx_hazards_occurred_at ON hazards(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_hazard_id ON alerts(hazard_id);
`

func (p *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (p *PostgresDB) Add(ctx context.Context, h *models.HazardRecord) error {
	attrs, err := encodeAttributes(h.Attributes)
	if err != nil {
		return err
	}
	var attrsJSON []byte
	if attrs.Valid {
		attrsJSON = []byte(attrs.String)
	}

	var lat, lon *float64
	if h.Coordinate != nil {
		lat, lon = &h.Coordinate.Latitude, &h.Coordinate.Longitude
	}
	var occurred *time.Time
	if !h.OccurredAt.IsZero() {
		occurred = &h.OccurredAt
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO hazards (`+hazardColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.ID, h.Source, string(h.Category), string(h.Tier), h.RawTier, h.Title,
		lat, lon, occurred, attrsJSON, h.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: add hazard %s", h.ID)
	}
	return nil
}

func (p *PostgresDB) GetByID(ctx context.Context, id string) (*models.HazardRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+hazardColumns+` FROM hazards WHERE id = $1`, id)
	h, err := scanPgHazard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "hazard %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get hazard %s", id)
	}
	return h, nil
}

func (p *PostgresDB) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hazards WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s", id)
	}
	return exists, nil
}

func (p *PostgresDB) ListHazards(ctx context.Context, opts Filter) ([]models.HazardRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(opts.Categories) > 0 {
		where = append(where, "category = ANY("+arg(categoryStrings(opts.Categories))+")")
	}
	if len(opts.Tiers) > 0 {
		where = append(where, "tier = ANY("+arg(tierStrings(opts.Tiers))+")")
	}
	if opts.Since != nil {
		where = append(where, "occurred_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "occurred_at < "+arg(*opts.Until))
	}

	query := `SELECT ` + hazardColumns + ` FROM hazards`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC NULLS LAST, id"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit) + " OFFSET " + arg(opts.Offset)
	}

	return p.queryHazards(ctx, query, args...)
}

// BufferQuery uses ST_DWithin on the PostGIS sphere with a padded radius,
// then applies the engine's haversine test so both stores agree at the
// boundary. The limit is applied after the exact test.
func (p *PostgresDB) BufferQuery(ctx context.Context, q BufferQuery) ([]models.HazardRecord, error) {
	args := []any{q.Origin.Longitude, q.Origin.Latitude, postgisSearchRadius(q.RadiusMeters)}
	query := `SELECT ` + hazardColumns + ` FROM hazards
		WHERE geom IS NOT NULL
		AND ST_DWithin(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3, false)`
	if len(q.Tiers) > 0 {
		args = append(args, tierStrings(q.Tiers))
		query += ` AND tier = ANY($4)`
	}
	query += ` ORDER BY occurred_at DESC NULLS LAST, id`

	candidates, err := p.queryHazards(ctx, query, args...)
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

// postgisSearchRadius widens radiusMeters to cover the difference between
// the PostGIS mean sphere (6371008.8 m) and hazard.EarthRadiusMeters.
func postgisSearchRadius(radiusMeters float64) float64 {
	return radiusMeters*(1+1e-4) + 1
}

func (p *PostgresDB) queryHazards(ctx context.Context, query string, args ...any) ([]models.HazardRecord, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query hazards")
	}
	defer rows.Close()

	hazards := make([]models.HazardRecord, 0)
	for rows.Next() {
		h, err := scanPgHazard(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan hazard")
		}
		hazards = append(hazards, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate hazards")
	}
	return hazards, nil
}

func scanPgHazard(row pgx.Row) (*models.HazardRecord, error) {
	var (
		h              models.HazardRecord
		category, tier string
		lat, lon       *float64
		occurredAt     *time.Time
		attrs          []byte
	)
	if err := row.Scan(&h.ID, &h.Source, &category, &tier, &h.RawTier, &h.Title,
		&lat, &lon, &occurredAt, &attrs, &h.CreatedAt); err != nil {
		return nil, err
	}

	h.Category = models.Category(category)
	h.Tier = models.Tier(tier)
	if lat != nil && lon != nil {
		h.Coordinate = &models.GeoPoint{Latitude: *lat, Longitude: *lon}
	}
	if occurredAt != nil {
		h.OccurredAt = *occurredAt
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &h.Attributes); err != nil {
			return nil, eris.Wrapf(err, "decode attributes of %s", h.ID)
		}
	}
	return &h, nil
}

func (p *PostgresDB) AddAlert(ctx context.Context, a *models.Alert) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO alerts (id, hazard_id, severity, distance_m, radius_m, origin_lat, origin_lon, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.HazardID, string(a.Severity), a.DistanceMeters, a.RadiusMeters,
		a.Origin.Latitude, a.Origin.Longitude, a.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: add alert %s", a.ID)
	}
	return nil
}

func (p *PostgresDB) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, hazard_id, severity, distance_m, radius_m, origin_lat, origin_lon, created_at
		 FROM alerts ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		var (
			a        models.Alert
			severity string
		)
		if err := rows.Scan(&a.ID, &a.HazardID, &severity, &a.DistanceMeters, &a.RadiusMeters,
			&a.Origin.Latitude, &a.Origin.Longitude, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.Severity = models.AlertSeverity(severity)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate alerts")
	}
	return alerts, nil
}

func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

func categoryStrings(cs []models.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func tierStrings(ts []models.Tier) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
