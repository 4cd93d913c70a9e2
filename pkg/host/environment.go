package host

import (
	"context"
	"io"
	"net/http"

	"github.com/core-tools/hsu-extensions/pkg/errors"
)

// Environment is a remote environment the host serves. When a filter ID is
// configured, events for any other environment are ignored.
type Environment struct {
	ID       string
	Roles    []string
	Members  []string
	Channels []string
}

// IsCacheEmpty reports whether any part of the environment's cached state
// is still missing.
func (e Environment) IsCacheEmpty() bool {
	return len(e.Roles) == 0 || len(e.Members) == 0 || len(e.Channels) == 0
}

// OnEnvironmentAvailable opens the environment gate. An environment that
// arrives with an empty or partial cache is probed over HTTP instead, and the gate
// stays closed until a later event reports it populated.
func (h *Host) OnEnvironmentAvailable(ctx context.Context, env Environment) {
	if !h.matchesEnvironment(env) {
		h.logger.Debugf("Ignoring environment, id: %s", env.ID)
		return
	}

	if env.IsCacheEmpty() {
		h.logger.Warnf("Environment is available but its cache is empty, id: %s", env.ID)
		if err := h.probe(ctx); err != nil {
			h.logger.Errorf("Environment probe failed, id: %s, error: %v", env.ID, err)
		}
		return
	}

	h.environment.Set()
	h.logger.Infof("Environment available, id: %s", env.ID)
}

// OnEnvironmentUnavailable closes the environment gate.
func (h *Host) OnEnvironmentUnavailable(env Environment) {
	if !h.matchesEnvironment(env) {
		return
	}
	h.environment.Clear()
	h.logger.Warnf("Environment unavailable, id: %s", env.ID)
}

// WaitUntilEnvironmentAvailable blocks until the environment gate opens or
// ctx is done.
func (h *Host) WaitUntilEnvironmentAvailable(ctx context.Context) error {
	if err := h.environment.Wait(ctx); err != nil {
		return errors.NewCancelledError("stopped waiting for environment", err)
	}
	return nil
}

func (h *Host) IsEnvironmentAvailable() bool {
	return h.environment.IsSet()
}

func (h *Host) matchesEnvironment(env Environment) bool {
	return h.options.GuildID == "" || h.options.GuildID == env.ID
}

func (h *Host) probe(ctx context.Context) error {
	if h.options.ProbeURL == "" {
		return nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, h.options.ProbeURL, nil)
	if err != nil {
		return errors.NewValidationError("invalid probe URL", err).WithContext("url", h.options.ProbeURL)
	}

	response, err := h.session.Do(request)
	if err != nil {
		return errors.NewIOError("probe request failed", err).WithContext("url", h.options.ProbeURL)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode >= http.StatusBadRequest {
		return errors.NewIOError("probe returned an error status", nil).
			WithContext("url", h.options.ProbeURL).
			WithContext("status", response.StatusCode)
	}

	h.logger.Infof("Environment probe succeeded, status: %d", response.StatusCode)
	return nil
}
