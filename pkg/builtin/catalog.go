// Package builtin holds the extensions compiled into the host daemon.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/unit"
)

// Catalog returns the compiled-in extensions under namespace.
func Catalog(namespace string) *unit.Catalog {
	return unit.NewCatalog().Add(
		unit.Descriptor{
			Name:     unit.Join(namespace, "utils.ping"),
			New:      newPing,
			Metadata: &unit.Metadata{EnabledByDefault: true},
		},
		unit.Descriptor{
			Name:     unit.Join(namespace, "utils.echo"),
			New:      newEcho,
			Metadata: &unit.Metadata{},
		},
	)
}

type ping struct {
	loadedAt time.Time
}

func newPing() unit.Unit {
	return &ping{}
}

func (p *ping) Setup(ctx context.Context, host unit.Host) error {
	p.loadedAt = time.Now()
	return host.AddHandler(unit.HandlerFunc{GroupName: "ping", Fn: p.handle})
}

func (p *ping) Teardown(ctx context.Context) error {
	return nil
}

func (p *ping) handle(ctx context.Context, args []string) (string, error) {
	return fmt.Sprintf("pong (loaded %s ago)", time.Since(p.loadedAt).Round(time.Second)), nil
}

func newEcho() unit.Unit {
	return unit.Funcs{
		SetupFunc: func(ctx context.Context, host unit.Host) error {
			return host.AddHandler(unit.HandlerFunc{
				GroupName: "echo",
				Fn: func(ctx context.Context, args []string) (string, error) {
					if len(args) == 0 {
						return "", fmt.Errorf("nothing to echo")
					}
					return strings.Join(args, " "), nil
				},
			})
		},
	}
}
