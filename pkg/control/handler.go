package control

import (
	"context"

	"github.com/core-tools/hsu-extensions/pkg/domain"
	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&extensionServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Status(ctx context.Context, request *emptypb.Empty) (*wrapperspb.StringValue, error) {
	response, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Status server handler done")
	return wrapperspb.String(response), nil
}

func (h *grpcServerHandler) Invoke(ctx context.Context, request *structpb.Struct) (*wrapperspb.StringValue, error) {
	group, args := parseInvokeRequest(request)
	if group == "" {
		return nil, status.Error(codes.InvalidArgument, "command group is required")
	}

	response, err := h.handler.Invoke(ctx, group, args)
	if err != nil {
		h.logger.Errorf("Invoke server handler, group: %s, error: %v", group, err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Invoke server handler done, group: %s", group)
	return wrapperspb.String(response), nil
}

func toStatusError(err error) error {
	switch {
	case errors.IsNotFoundError(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.IsValidationError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.IsCancelledError(err):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
