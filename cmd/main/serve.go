package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"market-platform/src/grpc_control"
	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/server"
	"market-platform/src/websocket"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve every command over HTTP and the gRPC control service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().Int("grpc-port", 0, "gRPC port, 0 keeps the config value")
}

// -----------------------------------------------------------------------------

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	cfg := rt.cfg
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		cfg.Port = p
	}
	if p, _ := cmd.Flags().GetInt("grpc-port"); p > 0 {
		cfg.GrpcPort = p
	}
	if mb := helpers.ApplyMemoryLimit(); mb > 0 {
		rt.log.Info("Memory limit set to %d MB", mb)
	}

	feeds := websocket.NewFeedManager(cfg.Websocket, websocket.NewMetrics(rt.metrics))
	websocket.SetDefaultManager(feeds)

	var auth interfaces.IAuthHook
	if cfg.System.API.Auth.Enabled {
		auth = server.NewTokenAuth(cfg.System.API.Auth.Tokens, rt.store)
	}
	api, err := server.NewAPIServer(cfg.MConfig, logger.NewLogger(cfg, "APIServer"), server.Options{
		Runner:   rt.runner,
		Feeds:    feeds,
		Auth:     auth,
		Gatherer: rt.metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(api.Start)

	var grpcServer *grpc.Server
	if cfg.GrpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GrpcHost, cfg.GrpcPort))
		if err != nil {
			return fmt.Errorf("listen for gRPC: %w", err)
		}
		svc := grpc_control.NewControlService(rt.registry, rt.runner, feeds, auth, logger.NewLogger(cfg, "ControlService"))
		grpcServer = grpc_control.NewServer(svc)
		rt.log.Info("Starting gRPC control server on %s", lis.Addr())
		g.Go(func() error {
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		rt.log.Info("Shutting down...")
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err := feeds.StopAll(shutdown); err != nil {
			rt.log.Warning("Stopping feeds: %v", err)
		}
		return api.Stop(shutdown)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
