package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	internalgrpc "github.com/mr1hm/go-hazard-alerts/internal/grpc"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream alerts for hazards near a position from a running server",
	Example: `  hazard-alert watch --lat -6.9175 --lon 107.6191
  hazard-alert watch --addr hazards.internal:50051 --lat -6.9175 --lon 107.6191 --radius-m 2000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := cmd.Flags()
		addr, _ := f.GetString("addr")
		if addr == "" {
			addr = fmt.Sprintf("localhost:%d", cfg.GRPC.Port)
		}
		lat, lon := positionFlags(cmd)
		if lat == nil || lon == nil {
			return eris.New("--lat and --lon are required")
		}
		req := map[string]any{"lat": *lat, "lon": *lon}
		if f.Changed("radius-m") {
			r, _ := f.GetFloat64("radius-m")
			req["radius_m"] = r
		}

		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return eris.Wrapf(err, "dial %s", addr)
		}
		defer conn.Close()

		return watch(ctx, cmd.OutOrStdout(), internalgrpc.NewHazardServiceClient(conn), req)
	},
}

func init() {
	f := watchCmd.Flags()
	f.String("addr", "", "gRPC server address (default localhost:GRPC_PORT)")
	f.Float64("lat", 0, "latitude to watch")
	f.Float64("lon", 0, "longitude to watch")
	f.Float64("radius-m", 0, "alert radius in meters (default: server ALERT_RADIUS_METERS)")
	rootCmd.AddCommand(watchCmd)
}

// watch prints one JSON line per alert until the stream ends or ctx is done.
func watch(ctx context.Context, w io.Writer, client *internalgrpc.HazardServiceClient, req map[string]any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return eris.Wrap(err, "build request")
	}

	stream, err := client.StreamAlerts(ctx, in)
	if err != nil {
		return eris.Wrap(err, "open alert stream")
	}
	slog.Info("watching for alerts", "request", req)

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return eris.Wrap(err, "receive alert")
		}

		line, err := protojson.Marshal(msg)
		if err != nil {
			return eris.Wrap(err, "encode alert")
		}
		if _, err := fmt.Fprintln(w, string(line)); err != nil {
			return err
		}
	}
}
