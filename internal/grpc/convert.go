package grpc

import (
	"time"

	"github.com/rotisserie/eris"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
)

// numberField reads an optional number. Absent and null both mean unset.
func numberField(in *structpb.Struct, key string) (*float64, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		return &f, nil
	default:
		return nil, eris.Errorf("%s must be a number", key)
	}
}

func stringField(in *structpb.Struct, key string) (string, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return "", nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	default:
		return "", eris.Errorf("%s must be a string", key)
	}
}

// stringsField accepts either a single string or a list of strings.
func stringsField(in *structpb.Struct, key string) ([]string, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StringValue:
		return []string{k.StringValue}, nil
	case *structpb.Value_ListValue:
		out := make([]string, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			s, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, eris.Errorf("%s must contain only strings", key)
			}
			out = append(out, s.StringValue)
		}
		return out, nil
	default:
		return nil, eris.Errorf("%s must be a string or a list of strings", key)
	}
}

func queryFrom(in *structpb.Struct) (hazard.Query, error) {
	var q hazard.Query
	var err error

	if q.Categories, err = stringsField(in, "categories"); err != nil {
		return q, err
	}
	if q.Tiers, err = stringsField(in, "tiers"); err != nil {
		return q, err
	}
	if q.Start, err = stringField(in, "start"); err != nil {
		return q, err
	}
	if q.End, err = stringField(in, "end"); err != nil {
		return q, err
	}
	if q.RadiusKm, err = numberField(in, "radius_km"); err != nil {
		return q, err
	}
	if q.Lat, err = numberField(in, "lat"); err != nil {
		return q, err
	}
	if q.Lon, err = numberField(in, "lon"); err != nil {
		return q, err
	}
	return q, nil
}

// hazardValue renders a record for the wire. Distance is included when an
// origin is known and the record has a position.
func hazardValue(h *models.HazardRecord, origin *models.GeoPoint) map[string]any {
	m := map[string]any{
		"id":         h.ID,
		"source":     h.Source,
		"category":   string(h.Category),
		"tier":       string(h.Tier),
		"title":      h.Title,
		"created_at": h.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !h.OccurredAt.IsZero() {
		m["occurred_at"] = h.OccurredAt.Format(time.RFC3339)
	}
	if h.Coordinate != nil {
		m["lat"] = h.Coordinate.Latitude
		m["lon"] = h.Coordinate.Longitude
		if origin != nil {
			m["distance_m"] = hazard.Distance(*origin, *h.Coordinate)
		}
	}
	if len(h.Attributes) > 0 {
		m["attributes"] = h.Attributes
	}
	return m
}

func hazardList(hazards []models.HazardRecord, origin *models.GeoPoint) []any {
	out := make([]any, len(hazards))
	for i := range hazards {
		out[i] = hazardValue(&hazards[i], origin)
	}
	return out
}

func alertValue(a *models.Alert, h *models.HazardRecord) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"hazard_id":  a.HazardID,
		"severity":   string(a.Severity),
		"distance_m": a.DistanceMeters,
		"radius_m":   a.RadiusMeters,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339),
		"hazard":     hazardValue(h, &a.Origin),
	}
}
