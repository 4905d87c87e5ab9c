package grpc

import (
	"context"
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
	"github.com/mr1hm/go-hazard-alerts/internal/observability"
	"github.com/mr1hm/go-hazard-alerts/internal/repository"
)

// memStore implements the hazard and alert repositories in memory.
type memStore struct {
	mu          sync.Mutex
	hazards     []models.HazardRecord
	alerts      []models.Alert
	panicOnList bool
}

func (m *memStore) Add(ctx context.Context, h *models.HazardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hazards = append(m.hazards, *h)
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.HazardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hazards {
		if h.ID == id {
			return &h, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := m.GetByID(ctx, id)
	return err == nil, nil
}

func (m *memStore) ListHazards(ctx context.Context, opts repository.Filter) ([]models.HazardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnList {
		panic("list exploded")
	}
	return append([]models.HazardRecord(nil), m.hazards...), nil
}

func (m *memStore) BufferQuery(ctx context.Context, q repository.BufferQuery) ([]models.HazardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return hazard.FindNearby(&q.Origin, m.hazards, q.RadiusMeters), nil
}

func (m *memStore) AddAlert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *memStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Alert(nil), m.alerts...), nil
}

func (m *memStore) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

var bandung = models.GeoPoint{Latitude: -6.9175, Longitude: 107.6191}

func seededStore() *memStore {
	return &memStore{
		hazards: []models.HazardRecord{
			{
				ID:         "near_eq",
				Category:   models.CategoryEarthquake,
				Tier:       models.TierDisasterRisk,
				Coordinate: &models.GeoPoint{Latitude: -6.9176, Longitude: 107.6192},
				OccurredAt: time.Date(2025, 2, 14, 3, 0, 0, 0, time.UTC),
			},
			{
				ID:         "far_flood",
				Category:   models.CategoryFlood,
				Tier:       models.TierPotentialHazard,
				Coordinate: &models.GeoPoint{Latitude: -6.9445, Longitude: 107.6191},
				OccurredAt: time.Date(2025, 2, 10, 3, 0, 0, 0, time.UTC),
			},
			{
				ID:       "unplaced_eq",
				Category: models.CategoryEarthquake,
				Tier:     models.TierHistoricalEvent,
			},
		},
	}
}

func startServer(t *testing.T, store *memStore, b *Broadcaster, metrics *observability.Collector) *HazardServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(store, store, b, metrics, config.EngineConfig{
		AlertRadiusMeters: 500,
		MaxSearchRadiusKm: 10,
		DateLocation:      time.UTC,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		<-done
	})
	return NewHazardServiceClient(conn)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return st
}

func hazardIDs(v any) []string {
	items, _ := v.([]any)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		id, _ := m["id"].(string)
		ids = append(ids, id)
	}
	return ids
}

func TestServer_FindNearby(t *testing.T) {
	client := startServer(t, seededStore(), NewBroadcaster(), nil)

	resp, err := client.FindNearby(context.Background(), mustStruct(t, map[string]any{
		"lat": bandung.Latitude,
		"lon": bandung.Longitude,
	}))
	require.NoError(t, err)

	got := resp.AsMap()
	assert.Equal(t, true, got["present"])
	assert.Equal(t, 1.0, got["count"])
	assert.Equal(t, 500.0, got["radius_m"])
	assert.Equal(t, []string{"near_eq"}, hazardIDs(got["hazards"]))

	first := got["hazards"].([]any)[0].(map[string]any)
	assert.InDelta(t, 15.6, first["distance_m"], 0.5)

	resp, err = client.FindNearby(context.Background(), mustStruct(t, map[string]any{
		"lat":      bandung.Latitude,
		"lon":      bandung.Longitude,
		"radius_m": 5000,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"near_eq", "far_flood"}, hazardIDs(resp.AsMap()["hazards"]))
}

func TestServer_FindNearbyWithoutOrigin(t *testing.T) {
	client := startServer(t, seededStore(), NewBroadcaster(), nil)

	resp, err := client.FindNearby(context.Background(), &structpb.Struct{})
	require.NoError(t, err)

	got := resp.AsMap()
	assert.Equal(t, false, got["present"])
	assert.Equal(t, 0.0, got["count"])
}

func TestServer_InvalidArguments(t *testing.T) {
	client := startServer(t, seededStore(), NewBroadcaster(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"lat without lon", func() error {
			_, err := client.FindNearby(ctx, mustStruct(t, map[string]any{"lat": -6.9}))
			return err
		}},
		{"radius as string", func() error {
			_, err := client.FindNearby(ctx, mustStruct(t, map[string]any{"lat": -6.9, "lon": 107.6, "radius_m": "far"}))
			return err
		}},
		{"negative radius", func() error {
			_, err := client.FindNearby(ctx, mustStruct(t, map[string]any{"lat": -6.9, "lon": 107.6, "radius_m": -1}))
			return err
		}},
		{"reversed dates", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"start": "2025-02-15", "end": "2025-02-14"}))
			return err
		}},
		{"radius over maximum", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"radius_km": 50, "lat": -6.9, "lon": 107.6}))
			return err
		}},
		{"categories of numbers", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"categories": []any{1, 2}}))
			return err
		}},
		{"limit beyond int range", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"limit": 1e19}))
			return err
		}},
		{"infinite limit", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"limit": math.Inf(1)}))
			return err
		}},
		{"NaN limit", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"limit": math.NaN()}))
			return err
		}},
		{"zero limit", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"limit": 0}))
			return err
		}},
		{"negative limit", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"limit": -1}))
			return err
		}},
		{"fractional limit", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"limit": 2.5}))
			return err
		}},
		{"limit over maximum", func() error {
			_, err := client.FilterHazards(ctx, mustStruct(t, map[string]any{"limit": 501}))
			return err
		}},
		{"infinite radius", func() error {
			_, err := client.FindNearby(ctx, mustStruct(t, map[string]any{"lat": -6.9, "lon": 107.6, "radius_m": math.Inf(1)}))
			return err
		}},
		{"NaN radius", func() error {
			_, err := client.FindNearby(ctx, mustStruct(t, map[string]any{"lat": -6.9, "lon": 107.6, "radius_m": math.NaN()}))
			return err
		}},
		{"radius over maximum meters", func() error {
			_, err := client.FindNearby(ctx, mustStruct(t, map[string]any{"lat": -6.9, "lon": 107.6, "radius_m": 20000}))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.Equal(t, codes.InvalidArgument, status.Code(err), "got %v", err)
		})
	}
}

func TestServer_FilterHazards(t *testing.T) {
	client := startServer(t, seededStore(), NewBroadcaster(), nil)

	resp, err := client.FilterHazards(context.Background(), mustStruct(t, map[string]any{
		"categories": "gempa bumi",
	}))
	require.NoError(t, err)
	got := resp.AsMap()
	assert.Equal(t, 2.0, got["count"])
	assert.Equal(t, []string{"near_eq", "unplaced_eq"}, hazardIDs(got["hazards"]))

	resp, err = client.FilterHazards(context.Background(), mustStruct(t, map[string]any{
		"tiers":     []any{"potensi_bahaya", "resiko_bencana"},
		"start":     "2025-02-10",
		"end":       "2025-02-14",
		"radius_km": 5,
		"lat":       bandung.Latitude,
		"lon":       bandung.Longitude,
		"limit":     1,
	}))
	require.NoError(t, err)
	got = resp.AsMap()
	assert.Equal(t, 2.0, got["count"], "count is taken before the limit")
	assert.Equal(t, []string{"near_eq"}, hazardIDs(got["hazards"]))
}

func TestServer_FilterHazardsLimitBounds(t *testing.T) {
	client := startServer(t, seededStore(), NewBroadcaster(), nil)

	resp, err := client.FilterHazards(context.Background(), mustStruct(t, map[string]any{"limit": 500}))
	require.NoError(t, err)
	got := resp.AsMap()
	assert.Equal(t, 3.0, got["count"])
	assert.Len(t, hazardIDs(got["hazards"]), 3)

	resp, err = client.FilterHazards(context.Background(), mustStruct(t, map[string]any{"limit": 2}))
	require.NoError(t, err)
	assert.Len(t, hazardIDs(resp.AsMap()["hazards"]), 2)
}

func TestServer_RecoversFromHandlerPanic(t *testing.T) {
	store := seededStore()
	store.panicOnList = true
	client := startServer(t, store, NewBroadcaster(), nil)

	_, err := client.FilterHazards(context.Background(), mustStruct(t, map[string]any{}))
	assert.Equal(t, codes.Internal, status.Code(err))

	// The server keeps serving after the panic.
	resp, err := client.FindNearby(context.Background(), mustStruct(t, map[string]any{
		"lat": bandung.Latitude,
		"lon": bandung.Longitude,
	}))
	require.NoError(t, err)
	assert.Equal(t, true, resp.AsMap()["present"])
}

func TestServer_StreamAlerts(t *testing.T) {
	store := seededStore()
	b := NewBroadcaster()
	client := startServer(t, store, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.StreamAlerts(ctx, mustStruct(t, map[string]any{
		"lat": bandung.Latitude,
		"lon": bandung.Longitude,
	}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	b.Broadcast(&models.HazardRecord{ID: "far", Coordinate: &models.GeoPoint{Latitude: -6.9445, Longitude: 107.6191}})
	b.Broadcast(&models.HazardRecord{ID: "unplaced"})
	b.Broadcast(&models.HazardRecord{
		ID:         "close",
		Category:   models.CategoryLandslide,
		Coordinate: &models.GeoPoint{Latitude: -6.9176, Longitude: 107.6192},
	})

	msg, err := stream.Recv()
	require.NoError(t, err)

	got := msg.AsMap()
	assert.Equal(t, "close", got["hazard_id"])
	assert.Equal(t, string(models.AlertSeverityCritical), got["severity"])
	assert.Equal(t, 500.0, got["radius_m"])
	assert.Equal(t, "landslide", got["hazard"].(map[string]any)["category"])
	assert.Equal(t, 1, store.alertCount())

	cancel()
	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_StreamAlertsEndsOnClose(t *testing.T) {
	b := NewBroadcaster()
	client := startServer(t, seededStore(), b, nil)

	stream, err := client.StreamAlerts(context.Background(), mustStruct(t, map[string]any{
		"lat": bandung.Latitude,
		"lon": bandung.Longitude,
	}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	b.Close()

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_StreamAlertsRequiresOrigin(t *testing.T) {
	client := startServer(t, seededStore(), NewBroadcaster(), nil)

	stream, err := client.StreamAlerts(context.Background(), &structpb.Struct{})
	require.NoError(t, err)

	_, err = stream.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_RecordsRPCMetrics(t *testing.T) {
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	client := startServer(t, seededStore(), NewBroadcaster(), metrics)

	_, err = client.FindNearby(context.Background(), mustStruct(t, map[string]any{
		"lat": bandung.Latitude,
		"lon": bandung.Longitude,
	}))
	require.NoError(t, err)
	_, err = client.FilterHazards(context.Background(), mustStruct(t, map[string]any{"start": "2025-02-15"}))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RPCRequests.WithLabelValues("HazardService", "FindNearby", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RPCRequests.WithLabelValues("HazardService", "FilterHazards", "InvalidArgument")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NearbyChecks.WithLabelValues("present")))
}
