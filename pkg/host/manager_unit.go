package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/core-tools/hsu-extensions/pkg/batch"
	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/lifecycle"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

const (
	ExtensionGroup = "ext"
	PluginGroup    = "plugins"

	managerLeaf = "core.extension_manager"
)

// managerDescriptors returns the built-in unit that exposes the extension
// and plugin command groups. It is loaded at startup and cannot be unloaded.
func managerDescriptors(h *Host) []unit.Descriptor {
	return []unit.Descriptor{
		{
			Name: unit.Join(h.options.Extensions.Namespace, managerLeaf),
			New: func() unit.Unit {
				return &managerUnit{host: h}
			},
			Metadata: &unit.Metadata{
				EnabledByDefault: true,
				UnloadProtected:  true,
			},
		},
	}
}

type managerUnit struct {
	host *Host
}

func (m *managerUnit) Setup(ctx context.Context, host unit.Host) error {
	if err := host.AddHandler(&commandGroup{name: ExtensionGroup, coordinator: m.host.extensions}); err != nil {
		return err
	}
	return host.AddHandler(&commandGroup{name: PluginGroup, coordinator: m.host.plugins})
}

func (m *managerUnit) Teardown(ctx context.Context) error {
	return nil
}

// commandGroup parses "<verb> <names...>" and drives one coordinator.
type commandGroup struct {
	name        string
	coordinator *batch.Coordinator
}

func (g *commandGroup) Name() string {
	return g.name
}

func (g *commandGroup) Handle(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return g.help(), nil
	}

	verb := strings.ToLower(args[0])
	names := args[1:]

	var action lifecycle.Action
	switch verb {
	case "list", "all", "ls":
		return g.coordinator.Status(), nil
	case "load", "l":
		action = lifecycle.Load
	case "unload", "ul":
		action = lifecycle.Unload
	case "reload", "r":
		action = lifecycle.Reload
	default:
		return g.help(), nil
	}

	if len(names) == 0 {
		return g.help(), nil
	}

	report, err := g.coordinator.Apply(ctx, action, names)
	if err != nil {
		if isUserError(err) {
			return batch.Describe(err, g.coordinator.Kind()), nil
		}
		return "", err
	}
	return report.Summary, nil
}

func (g *commandGroup) help() string {
	kind := g.coordinator.Kind()
	return fmt.Sprintf("Usage: %[1]s <verb> [%[2]s...]\n"+
		"  load, l      load %[2]ss\n"+
		"  unload, ul   unload %[2]ss\n"+
		"  reload, r    reload %[2]ss\n"+
		"  list, all, ls  list %[2]ss\n"+
		"Names may be fully qualified, unique leaves, or * / ** wildcards.",
		g.name, kind)
}

func isUserError(err error) bool {
	return errors.IsNotFoundError(err) ||
		errors.IsAmbiguousError(err) ||
		errors.IsProtectedError(err) ||
		errors.IsValidationError(err)
}
