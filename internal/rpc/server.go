package rpc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const maxMsgSize = 4 * 1024 * 1024

// NewGRPCServer creates a gRPC server carrying the world model service and
// a health service that reports it serving.
func NewGRPCServer(srv *Server) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.ChainUnaryInterceptor(unaryLogger(srv.log)),
		grpc.ChainStreamInterceptor(streamLogger(srv.log)),
	)
	RegisterWorldModelService(s, srv)

	hs := health.NewServer()
	hs.SetServingStatus(WorldModelServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// Serve runs s on lis until ctx is done, then stops it gracefully.
func Serve(ctx context.Context, s *grpc.Server, hs *health.Server, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if hs != nil {
			hs.Shutdown()
		}
		s.GracefulStop()
		<-errCh
		return nil
	}
}

func unaryLogger(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(log, info.FullMethod, start, err)
		return resp, err
	}
}

func streamLogger(log *zap.SugaredLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(log, info.FullMethod, start, err)
		return err
	}
}

func logCall(log *zap.SugaredLogger, method string, start time.Time, err error) {
	if err != nil {
		log.Warnw("rpc failed", "method", method, "code", status.Code(err), "duration", time.Since(start), "error", err)
		return
	}
	log.Debugw("rpc", "method", method, "duration", time.Since(start))
}
