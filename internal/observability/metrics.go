package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Collector bundles the service's Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	FilterRequests *prometheus.CounterVec
	NearbyChecks   *prometheus.CounterVec
	Ingested       *prometheus.CounterVec
	Skipped        *prometheus.CounterVec

	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
}

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// NewCollector registers metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.FilterRequests, "hazard_filter_requests_total", "Filter evaluations, labeled by the surface that requested them.", []string{"surface"}},
		{&c.NearbyChecks, "hazard_nearby_checks_total", "Proximity checks, labeled by whether anything was nearby.", []string{"result"}},
		{&c.Ingested, "hazard_ingested_total", "Hazard records stored, labeled by source.", []string{"source"}},
		{&c.Skipped, "hazard_records_skipped_total", "Hazard records dropped during ingestion, labeled by reason.", []string{"reason"}},
		{&c.RPCRequests, "hazard_grpc_requests_total", "Handled gRPC calls, labeled by service, method and status code.", []string{"service", "method", "code"}},
	}
	for _, spec := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: spec.name, Help: spec.help}, spec.labels)
		if *spec.dst, err = registerCounterVec(reg, vec, spec.name); err != nil {
			return nil, err
		}
	}

	c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hazard_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route", "status"}), "hazard_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hazard_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"service", "method"}), "hazard_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Collector) ObserveFilter(surface string) {
	if c == nil {
		return
	}
	c.FilterRequests.WithLabelValues(surface).Inc()
}

func (c *Collector) ObserveNearby(present bool) {
	if c == nil {
		return
	}
	result := "absent"
	if present {
		result = "present"
	}
	c.NearbyChecks.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveIngested(source string) {
	if c == nil {
		return
	}
	c.Ingested.WithLabelValues(source).Inc()
}

func (c *Collector) ObserveSkipped(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Skipped.WithLabelValues(reason).Add(float64(n))
}

// GinMiddleware records request latency per matched route.
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		if c == nil {
			return
		}
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		c.HTTPDurations.
			WithLabelValues(ctx.Request.Method, route, strconv.Itoa(ctx.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses "/pkg.Service/Method" into its service and method
// names, returning "unknown" for parts it cannot find.
func SplitMethod(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, eris.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, eris.Wrapf(err, "register %s", name)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, eris.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, eris.Wrapf(err, "register %s", name)
	}
	return vec, nil
}
