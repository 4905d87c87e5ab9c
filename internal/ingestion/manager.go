package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	internalgrpc "github.com/mr1hm/go-hazard-alerts/internal/grpc"
	"github.com/mr1hm/go-hazard-alerts/internal/models"
	"github.com/mr1hm/go-hazard-alerts/internal/observability"
	"github.com/mr1hm/go-hazard-alerts/internal/repository"
	"github.com/mr1hm/go-hazard-alerts/internal/worker"
)

const DefaultSourceName = "hazard-backend"

type poller struct {
	fetcher  Fetcher
	interval time.Duration
}

type Manager struct {
	cfg         *config.Config
	repo        repository.HazardRepository
	broadcaster *internalgrpc.Broadcaster
	metrics     *observability.Collector
	pollers     []poller
	pool        *worker.WorkerPool[*models.HazardRecord]
	wg          sync.WaitGroup
}

func NewManager(cfg *config.Config, repo repository.HazardRepository, broadcaster *internalgrpc.Broadcaster, metrics *observability.Collector) *Manager {
	m := &Manager{
		cfg:         cfg,
		repo:        repo,
		broadcaster: broadcaster,
		metrics:     metrics,
	}
	if cfg.Source.Enabled {
		m.AddSource(NewHTTPSource(DefaultSourceName, cfg.Source.URL, cfg.Engine.DateLocation), cfg.Source.PollInterval)
	}
	return m
}

// AddSource registers an extra fetcher. It must be called before Start.
func (m *Manager) AddSource(f Fetcher, interval time.Duration) {
	m.pollers = append(m.pollers, poller{fetcher: f, interval: interval})
}

func (m *Manager) Start(ctx context.Context) {
	m.pool = worker.NewWorkerPool("ingestion", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, m.process)
	m.pool.Start(ctx)

	for _, p := range m.pollers {
		m.wg.Add(1)
		go m.runPoller(ctx, p)
	}
}

func (m *Manager) process(ctx context.Context, h *models.HazardRecord) error {
	exists, err := m.repo.Exists(ctx, h.ID)
	if err != nil {
		slog.Error("error checking existence", "id", h.ID, "error", err)
		return err
	}
	if exists {
		m.metrics.ObserveSkipped("duplicate", 1)
		return nil
	}

	if err := m.repo.Add(ctx, h); err != nil {
		slog.Error("error adding hazard", "id", h.ID, "error", err)
		return err
	}
	m.metrics.ObserveIngested(h.Source)

	if m.broadcaster != nil {
		m.broadcaster.Broadcast(h)
	}

	slog.Info("added hazard", "id", h.ID, "category", h.Category, "tier", h.Tier, "source", h.Source)
	return nil
}

func (m *Manager) runPoller(ctx context.Context, p poller) {
	defer m.wg.Done()
	source := p.fetcher.Name()
	slog.Info("starting poller", "source", source, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	m.poll(ctx, p.fetcher)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", source)
			return
		case <-ticker.C:
			m.poll(ctx, p.fetcher)
		}
	}
}

func (m *Manager) poll(ctx context.Context, f Fetcher) {
	source := f.Name()
	slog.Debug("polling", "source", source)

	res, err := f.Fetch(ctx)
	if err != nil {
		slog.Error("poll failed", "source", source, "error", err)
		return
	}
	m.metrics.ObserveSkipped("decode", res.Skipped)

	for i := range res.Records {
		if !m.pool.Submit(ctx, &res.Records[i]) {
			slog.Warn("poll interrupted", "source", source, "submitted", i, "total", len(res.Records))
			return
		}
	}

	slog.Debug("poll complete", "source", source, "count", len(res.Records), "skipped", res.Skipped)
}

func (m *Manager) Stop() {
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
	slog.Info("ingestion manager stopped")
}
