package control

import (
	"context"

	"github.com/core-tools/hsu-extensions/pkg/domain"
	"github.com/core-tools/hsu-extensions/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (string, error) {
	response := new(wrapperspb.StringValue)
	if err := gw.conn.Invoke(ctx, statusMethod, &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return "", err
	}
	gw.logger.Debugf("Status client gateway done")
	return response.GetValue(), nil
}

func (gw *grpcClientGateway) Invoke(ctx context.Context, group string, args []string) (string, error) {
	request, err := newInvokeRequest(group, args)
	if err != nil {
		return "", err
	}

	response := new(wrapperspb.StringValue)
	if err := gw.conn.Invoke(ctx, invokeMethod, request, response); err != nil {
		gw.logger.Errorf("Invoke client gateway, group: %s, error: %v", group, err)
		return "", err
	}
	gw.logger.Debugf("Invoke client gateway done, group: %s", group)
	return response.GetValue(), nil
}
