package grpc

import (
	"context"
	"log/slog"
	"math"
	"net"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
	"github.com/mr1hm/go-hazard-alerts/internal/observability"
	"github.com/mr1hm/go-hazard-alerts/internal/repository"
)

// maxFilterLimit caps FilterHazards' limit, matching the HTTP API.
const maxFilterLimit = 500

type Server struct {
	repo        repository.HazardRepository
	alerts      repository.AlertRepository
	broadcaster *Broadcaster
	metrics     *observability.Collector
	engine      config.EngineConfig
	grpcServer  *grpc.Server
	now         func() time.Time
}

func NewServer(repo repository.HazardRepository, alerts repository.AlertRepository, broadcaster *Broadcaster, metrics *observability.Collector, engine config.EngineConfig) *Server {
	if engine.AlertRadiusMeters <= 0 {
		engine.AlertRadiusMeters = hazard.DefaultAlertRadiusMeters
	}
	if engine.DateLocation == nil {
		engine.DateLocation = time.UTC
	}

	s := &Server{
		repo:        repo,
		alerts:      alerts,
		broadcaster: broadcaster,
		metrics:     metrics,
		engine:      engine,
		now:         time.Now,
	}
	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor(), recoverUnary),
		grpc.ChainStreamInterceptor(recoverStream),
	)
	s.grpcServer.RegisterService(&HazardServiceDesc, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// radiusFrom reads radius_m, falling back to the configured alert radius.
func (s *Server) radiusFrom(in *structpb.Struct) (float64, error) {
	r, err := numberField(in, "radius_m")
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	if r == nil {
		return s.engine.AlertRadiusMeters, nil
	}
	if *r < 0 || math.IsNaN(*r) || math.IsInf(*r, 0) {
		return 0, status.Errorf(codes.InvalidArgument, "radius_m must be a finite, non-negative number: %v", *r)
	}
	if limit := s.engine.MaxSearchRadiusKm * 1000; limit > 0 && *r > limit {
		return 0, status.Errorf(codes.InvalidArgument, "radius_m %v exceeds maximum %v", *r, limit)
	}
	return *r, nil
}

// limitFrom reads an optional limit; 0 means unlimited.
func limitFrom(in *structpb.Struct) (int, error) {
	l, err := numberField(in, "limit")
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	if l == nil {
		return 0, nil
	}
	if *l != math.Trunc(*l) || *l < 1 || *l > maxFilterLimit {
		return 0, status.Errorf(codes.InvalidArgument, "limit must be a whole number between 1 and %d: %v", maxFilterLimit, *l)
	}
	return int(*l), nil
}

func originFrom(in *structpb.Struct) (*models.GeoPoint, error) {
	q, err := queryFrom(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	origin, err := q.Origin()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return origin, nil
}

func (s *Server) FindNearby(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	origin, err := originFrom(req)
	if err != nil {
		return nil, err
	}
	radius, err := s.radiusFrom(req)
	if err != nil {
		return nil, err
	}

	if origin == nil {
		return newStruct(map[string]any{
			"present":  false,
			"count":    0,
			"radius_m": radius,
			"hazards":  []any{},
		})
	}

	candidates, err := s.repo.BufferQuery(ctx, repository.BufferQuery{
		Origin:       *origin,
		RadiusMeters: radius,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to query nearby hazards: %v", err)
	}

	report := hazard.Assess(origin, candidates, radius)
	s.metrics.ObserveNearby(report.Present)

	return newStruct(map[string]any{
		"present":  report.Present,
		"count":    report.Count,
		"radius_m": radius,
		"hazards":  hazardList(hazard.SortByDistance(*origin, report.Hazards), origin),
	})
}

func (s *Server) FilterHazards(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := queryFrom(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	origin, err := q.Origin()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	spec, err := q.Spec(s.engine.DateLocation, s.engine.MaxSearchRadiusKm)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	limit, err := limitFrom(req)
	if err != nil {
		return nil, err
	}

	hazards, err := s.repo.ListHazards(ctx, repository.FilterFor(spec, s.engine.DateLocation))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list hazards: %v", err)
	}

	filtered := hazard.ApplyFilters(hazards, spec, origin)
	s.metrics.ObserveFilter("grpc")

	count := len(filtered)
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}

	return newStruct(map[string]any{
		"count":   count,
		"hazards": hazardList(filtered, origin),
	})
}

// StreamAlerts sends an alert for every newly ingested hazard that lands
// inside the caller's radius, until the client goes away or the
// broadcaster closes.
func (s *Server) StreamAlerts(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	origin, err := originFrom(req)
	if err != nil {
		return err
	}
	if origin == nil {
		return status.Error(codes.InvalidArgument, "lat and lon are required")
	}
	radius, err := s.radiusFrom(req)
	if err != nil {
		return err
	}

	ctx := stream.Context()
	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to alert stream", "subscriber_id", id, "radius_m", radius)

	for {
		select {
		case <-ctx.Done():
			slog.Info("client disconnected from alert stream", "subscriber_id", id)
			return nil
		case h, ok := <-ch:
			if !ok {
				return nil
			}

			alert, inside := hazard.AlertFor(*origin, h, radius, s.now())
			if !inside {
				continue
			}
			if s.alerts != nil {
				if err := s.alerts.AddAlert(ctx, alert); err != nil {
					slog.Error("failed to persist alert", "error", err, "hazard_id", h.ID)
				}
			}

			msg, err := newStruct(alertValue(alert, h))
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				slog.Error("failed to send alert to stream", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}

// recoverUnary turns a handler panic into codes.Internal.
func recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in gRPC handler", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

func recoverStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in gRPC stream", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(srv, ss)
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return st, nil
}
