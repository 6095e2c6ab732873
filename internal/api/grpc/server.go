package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/logging"
	"github.com/arkilian/dissolve/internal/service"
)

// Server implements DissolveServer on top of the dissolve service.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
}

var _ DissolveServer = (*Server)(nil)

// NewServer creates a gRPC dissolve server.
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{svc: svc, logger: logger}
}

// Dissolve handles a dissolve request.
func (s *Server) Dissolve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)

	data, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	var req service.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}

	resp, err := s.svc.Dissolve(ctx, &req)
	if err != nil {
		code := Code(err)
		if code == codes.Internal {
			s.logger.Error("dissolve failed", "error", err, "request_id", requestID)
		}
		return nil, status.Error(code, err.Error())
	}
	resp.RequestID = requestID

	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(encoded, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Code maps a dissolve error to a gRPC status code.
func Code(err error) codes.Code {
	switch dserrors.GetCode(err) {
	case dserrors.CodeCapabilityMismatch:
		return codes.FailedPrecondition
	case dserrors.CodeTypeMismatch, dserrors.CodeDecodeFailed:
		return codes.InvalidArgument
	case dserrors.CodeObjectNotFound:
		return codes.NotFound
	case dserrors.CodeCanceled:
		return codes.Canceled
	}
	switch dserrors.GetCategory(err) {
	case dserrors.ErrCategoryValidation, dserrors.ErrCategoryGrouping:
		return codes.InvalidArgument
	}
	return codes.Internal
}

// RecoveryInterceptor turns handler panics into Internal errors.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in rpc",
					"panic", rec,
					"method", info.FullMethod,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		return handler(ctx, req)
	}
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
