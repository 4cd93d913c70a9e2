package domain

import (
	"context"
)

// Contract is the remote control surface of the extension host.
type Contract interface {
	// Status returns the listing of every registered extension and plugin.
	Status(ctx context.Context) (string, error)
	// Invoke runs a command group ("ext", "plugins", or one attached by a
	// unit) with the given arguments and returns its textual response.
	Invoke(ctx context.Context, group string, args []string) (string, error)
}
