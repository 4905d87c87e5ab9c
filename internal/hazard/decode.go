package hazard

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

var ErrUnsupportedPayload = eris.New("hazard: payload is neither a record array nor a FeatureCollection")

// Decoder maps backend payloads onto HazardRecords. Individual records that
// cannot be decoded are skipped, never failing the batch.
type Decoder struct {
	Source   string
	Location *time.Location // for timestamps without a zone; nil means UTC
	Now      func() time.Time
}

// DecodeResult carries the decoded records and how many were dropped.
type DecodeResult struct {
	Records []models.HazardRecord
	Skipped int
}

// rawRecord is one element of the backend's JSON array. Field names vary
// between endpoints, so alternates are accepted.
type rawRecord struct {
	ID           json.RawMessage   `json:"id"`
	Category     string            `json:"category"`
	JenisBencana string            `json:"jenis_bencana"`
	Tier         string            `json:"tier"`
	Tipe         string            `json:"tipe"`
	Layer        string            `json:"layer"`
	Title        string            `json:"title"`
	Nama         string            `json:"nama"`
	Geometry     *geojson.Geometry `json:"geometry"`
	Geom         *geojson.Geometry `json:"geom"`
	Latitude     *float64          `json:"latitude"`
	Longitude    *float64          `json:"longitude"`
	OccurredAt   json.RawMessage   `json:"occurred_at"`
	CreatedAt    json.RawMessage   `json:"created_at"`
	Attributes   map[string]any    `json:"attributes"`
}

// wrapped is the {"data": [...]} envelope some endpoints use.
type wrapped struct {
	Type     string            `json:"type"`
	Data     []json.RawMessage `json:"data"`
	Features []json.RawMessage `json:"features"`
}

// Decode accepts a JSON array of records, a {"data": [...]} envelope or a
// GeoJSON FeatureCollection.
func (d Decoder) Decode(data []byte) (DecodeResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return DecodeResult{}, ErrUnsupportedPayload
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return DecodeResult{}, eris.Wrap(err, "hazard: decode record array")
		}
		return d.decodeRecords(items), nil
	}

	var env wrapped
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return DecodeResult{}, eris.Wrap(err, "hazard: decode payload")
	}
	switch {
	case env.Type == "FeatureCollection":
		return d.decodeFeatures(env.Features), nil
	case env.Data != nil:
		return d.decodeRecords(env.Data), nil
	default:
		return DecodeResult{}, ErrUnsupportedPayload
	}
}

func (d Decoder) decodeRecords(items []json.RawMessage) DecodeResult {
	res := DecodeResult{Records: make([]models.HazardRecord, 0, len(items))}
	for i, item := range items {
		var raw rawRecord
		if err := json.Unmarshal(item, &raw); err != nil {
			slog.Warn("skipping undecodable hazard record", "source", d.Source, "index", i, "error", err)
			res.Skipped++
			continue
		}
		rec, ok := d.fromRaw(raw)
		if !ok {
			slog.Warn("skipping hazard record without id", "source", d.Source, "index", i)
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func (d Decoder) fromRaw(raw rawRecord) (models.HazardRecord, bool) {
	id := decodeID(raw.ID)
	if id == "" {
		return models.HazardRecord{}, false
	}

	rawTier := firstNonEmpty(raw.Tier, raw.Tipe, raw.Layer)
	rec := models.HazardRecord{
		ID:         id,
		Source:     d.Source,
		Category:   ParseCategory(firstNonEmpty(raw.Category, raw.JenisBencana)),
		Tier:       ParseTier(rawTier),
		RawTier:    rawTier,
		Title:      firstNonEmpty(raw.Title, raw.Nama),
		Attributes: raw.Attributes,
		CreatedAt:  d.now(),
	}

	geometry := raw.Geometry
	if geometry == nil {
		geometry = raw.Geom
	}
	if geometry != nil {
		rec.Coordinate = pointFromGeometry(geometry)
	} else if raw.Latitude != nil && raw.Longitude != nil {
		rec.Coordinate = finitePoint(*raw.Latitude, *raw.Longitude)
	}

	ts := raw.OccurredAt
	if len(ts) == 0 || string(ts) == "null" {
		ts = raw.CreatedAt
	}
	rec.OccurredAt = d.parseTime(ts)
	return rec, true
}

func (d Decoder) decodeFeatures(items []json.RawMessage) DecodeResult {
	res := DecodeResult{Records: make([]models.HazardRecord, 0, len(items))}
	for i, item := range items {
		var f geojson.Feature
		if err := f.UnmarshalJSON(item); err != nil {
			slog.Warn("skipping undecodable hazard feature", "source", d.Source, "index", i, "error", err)
			res.Skipped++
			continue
		}
		rec, ok := d.fromFeature(&f)
		if !ok {
			slog.Warn("skipping hazard feature without id", "source", d.Source, "index", i)
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// Property keys the engine interprets; everything else is an attribute.
var reservedProperties = map[string]bool{
	"id": true, "category": true, "jenis_bencana": true, "tier": true,
	"tipe": true, "layer": true, "title": true, "nama": true,
	"occurred_at": true, "created_at": true,
}

func (d Decoder) fromFeature(f *geojson.Feature) (models.HazardRecord, bool) {
	props := f.Properties
	id := f.ID
	if id == "" {
		id = stringProp(props, "id")
	}
	if id == "" {
		return models.HazardRecord{}, false
	}

	rawTier := firstNonEmpty(stringProp(props, "tier"), stringProp(props, "tipe"), stringProp(props, "layer"))
	rec := models.HazardRecord{
		ID:        id,
		Source:    d.Source,
		Category:  ParseCategory(firstNonEmpty(stringProp(props, "category"), stringProp(props, "jenis_bencana"))),
		Tier:      ParseTier(rawTier),
		RawTier:   rawTier,
		Title:     firstNonEmpty(stringProp(props, "title"), stringProp(props, "nama")),
		CreatedAt: d.now(),
	}
	if p, ok := f.Geometry.(*geom.Point); ok && !p.Empty() {
		rec.Coordinate = finitePoint(p.Y(), p.X())
	}

	for k, v := range props {
		if reservedProperties[k] {
			continue
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]any)
		}
		rec.Attributes[k] = v
	}

	occurred := stringProp(props, "occurred_at")
	if occurred == "" {
		occurred = stringProp(props, "created_at")
	}
	if occurred != "" {
		rec.OccurredAt = d.parseTimeString(occurred)
	}
	return rec, true
}

// pointFromGeometry swaps GeoJSON's [lon, lat] into a GeoPoint. Anything
// but a non-empty Point yields nil.
func pointFromGeometry(g *geojson.Geometry) *models.GeoPoint {
	t, err := g.Decode()
	if err != nil {
		return nil
	}
	p, ok := t.(*geom.Point)
	if !ok || p.Empty() {
		return nil
	}
	return finitePoint(p.Y(), p.X())
}

func finitePoint(lat, lon float64) *models.GeoPoint {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return nil
	}
	return &models.GeoPoint{Latitude: lat, Longitude: lon}
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func stringProp(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
}

func (d Decoder) parseTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return d.parseTimeString(s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// parseTimeString returns the zero time for unparseable input, which fails
// any active date predicate.
func (d Decoder) parseTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (d Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
