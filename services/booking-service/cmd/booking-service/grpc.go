package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/rishith2903/medreserve/libs/grpcx"
	"github.com/rishith2903/medreserve/services/booking-service/internal/directory"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// startDirectoryServer exposes the local doctor directory to other services.
func startDirectoryServer(ctx context.Context, logger *slog.Logger, port string, provider directory.Provider) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerRequestIDInterceptor(),
			grpcx.UnaryServerLogInterceptor(logger),
		),
	)
	directory.RegisterServer(srv, provider)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
