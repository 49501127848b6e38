// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package grpcapi

import (
	"context"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/grimm-is/gwcore/internal/logging"
)

// ServiceName is the fully-qualified gRPC service the gateway exposes
// for configuration ingress.
const ServiceName = "gwconfig.v1.ConfigService"

// Applier receives each successfully converted configuration
// generation. Rejecting it (returning an error) refuses the whole
// generation without partial apply.
type Applier func(*GatewayConfig) error

// Server is the gRPC ingress endpoint.
type Server struct {
	grpc    *grpc.Server
	applier Applier
	log     *logging.Logger
}

// NewServer builds the ingress server around applier.
func NewServer(applier Applier, log *logging.Logger) *Server {
	s := &Server{grpc: grpc.NewServer(), applier: applier, log: log}
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error { return s.grpc.Serve(lis) }

// Stop shuts the server down gracefully.
func (s *Server) Stop() { s.grpc.GracefulStop() }

// apply handles one Apply RPC. Each apply gets a correlation id so the
// operator can match daemon logs to the caller's own records.
func (s *Server) apply(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	applyId := uuid.NewString()
	log := s.log.With(logging.F("apply_id", applyId))

	cfg, err := ConvertGatewayConfig(in)
	if err != nil {
		log.Warn("grpcapi: config conversion failed", logging.F("err", err.Error()))
		return errorResponse(0, applyId, err)
	}
	if err := cfg.Overlay.Validate(); err != nil {
		log.Warn("grpcapi: config rejected",
			logging.F("generation", cfg.Generation), logging.F("err", err.Error()))
		return errorResponse(cfg.Generation, applyId, err)
	}
	if err := s.applier(cfg); err != nil {
		log.Error("grpcapi: config apply failed",
			logging.F("generation", cfg.Generation), logging.F("err", err.Error()))
		return errorResponse(cfg.Generation, applyId, err)
	}
	log.Info("grpcapi: configuration applied", logging.F("generation", cfg.Generation))
	return structpb.NewStruct(map[string]any{
		"generation": cfg.Generation,
		"apply_id":   applyId,
		"status":     "ok",
	})
}

func errorResponse(generation int64, applyId string, err error) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"generation": generation,
		"apply_id":   applyId,
		"status":     "error",
		"error":      err.Error(),
	})
}

func applyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Apply"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).apply(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// configService is the method set the ServiceDesc registers against.
type configService interface {
	apply(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*configService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Apply", Handler: applyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gwconfig.proto",
}
