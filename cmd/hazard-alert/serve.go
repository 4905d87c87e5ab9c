package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-hazard-alerts/internal/api"
	"github.com/mr1hm/go-hazard-alerts/internal/config"
	internalgrpc "github.com/mr1hm/go-hazard-alerts/internal/grpc"
	"github.com/mr1hm/go-hazard-alerts/internal/ingestion"
	"github.com/mr1hm/go-hazard-alerts/internal/observability"
)

const serveCmdName = "serve"

var serveCmd = &cobra.Command{
	Use:   serveCmdName,
	Short: "Run ingestion plus the HTTP and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, c *config.Config) error {
	slog.Info("Server starting", "host", c.Server.Host, "port", c.Server.Port, "store", c.DB.Driver)

	store, err := openStore(ctx, c)
	if err != nil {
		return eris.Wrap(err, "failed to initialize store")
	}
	defer store.Close()

	var metrics *observability.Collector
	if c.Metrics.Enabled {
		if metrics, err = observability.NewCollector(nil); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Create broadcaster for gRPC streaming
	broadcaster := internalgrpc.NewBroadcaster()

	mgr := ingestion.NewManager(c, store, broadcaster, metrics)
	mgr.Start(gctx)

	grpcServer := internalgrpc.NewServer(store, store, broadcaster, metrics, c.Engine)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port),
		Handler: newRouter(c, api.NewHandler(store, broadcaster, metrics, c.Engine), metrics),
	}

	g.Go(func() error {
		grpcAddr := fmt.Sprintf(":%d", c.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			return eris.Wrap(err, "gRPC server error")
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server error")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		mgr.Stop()
		broadcaster.Close() // Close all streams gracefully
		grpcServer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

func newRouter(c *config.Config, handler *api.Handler, metrics *observability.Collector) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", api.NearbyCountHeader},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(c.Server.RateLimitRPS))

	handler.RegisterRoutes(router)
	return router
}
