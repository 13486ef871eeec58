package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/nainya/revertstore/internal/app"
	"github.com/nainya/revertstore/internal/logger"
	"github.com/nainya/revertstore/internal/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC API and the observability endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log = logger.InitGlobalLogger(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, WithCaller: cfg.Log.WithCaller})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.LogServerStart(cfg.Server.GrpcPort, cfg.Storage.Backend, cfg.Storage.Path)
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GrpcPort))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}

			grpcServer := grpc.NewServer(
				grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(a.Metrics, log)),
				grpc.MaxRecvMsgSize(16*1024*1024),
				grpc.MaxSendMsgSize(16*1024*1024),
			)
			server.RegisterRevertServiceServer(grpcServer, server.NewServer(a))
			obs := server.NewObservabilityServer(cfg.Server.MetricsPort, a.Metrics, log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(obs.Start)
			g.Go(func() error {
				obs.SetReady(true)
				log.LogServerReady(cfg.Server.GrpcPort)
				return grpcServer.Serve(lis)
			})
			g.Go(func() error {
				a.Metrics.RunUptime(gctx.Done(), 10*time.Second)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.LogServerShutdown()
				obs.SetReady(false)

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()

				stopped := make(chan struct{})
				go func() {
					grpcServer.GracefulStop()
					close(stopped)
				}()
				select {
				case <-stopped:
				case <-shutdownCtx.Done():
					grpcServer.Stop()
				}
				return obs.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil && err != grpc.ErrServerStopped {
				return err
			}
			return nil
		},
	}
}
