package host

import (
	"context"

	"github.com/core-tools/hsu-extensions/pkg/domain"
	"github.com/core-tools/hsu-extensions/pkg/logging"
)

func NewHostHandler(host *Host, logger logging.Logger) domain.Contract {
	return &hostHandler{
		host:   host,
		logger: logger,
	}
}

type hostHandler struct {
	host   *Host
	logger logging.Logger
}

func (h *hostHandler) Status(ctx context.Context) (string, error) {
	return h.host.Status(ctx), nil
}

func (h *hostHandler) Invoke(ctx context.Context, group string, args []string) (string, error) {
	h.logger.Debugf("Invoking command group, group: %s, args: %v", group, args)
	return h.host.Dispatch(ctx, group, args)
}
