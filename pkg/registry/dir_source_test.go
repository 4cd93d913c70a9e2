package registry

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/unit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("plugin leaves are detected by execute bits")
	}
}

func writeFile(t *testing.T, path string, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

type capturedPlugin struct {
	name       string
	executable string
	manifest   PluginManifest
}

func capturingFactory(captured map[string]capturedPlugin) PluginFactory {
	return func(name string, executablePath string, manifest PluginManifest) unit.Factory {
		captured[name] = capturedPlugin{name: name, executable: executablePath, manifest: manifest}
		return noopFactory
	}
}

func TestDirSource_Enumerate(t *testing.T) {
	skipOnWindows(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "relay", "thread_relay.sh"), "#!/bin/sh\n", 0o755)
	writeFile(t, filepath.Join(root, "relay", "thread_relay.yaml"), `
enabled_by_default: true
unload_protected: true
args: ["--verbose"]
wait_delay: 2s
`, 0o644)
	writeFile(t, filepath.Join(root, "Greeter"), "#!/bin/sh\n", 0o755)
	writeFile(t, filepath.Join(root, "broken", "bad"), "#!/bin/sh\n", 0o755)
	writeFile(t, filepath.Join(root, "broken", "bad.yaml"), "enabled_by_default: [not, a, bool\n", 0o644)
	writeFile(t, filepath.Join(root, "README.md"), "docs", 0o644)
	writeFile(t, filepath.Join(root, ".hidden", "secret"), "#!/bin/sh\n", 0o755)
	writeFile(t, filepath.Join(root, "bad name"), "#!/bin/sh\n", 0o755)

	captured := make(map[string]capturedPlugin)
	source := &DirSource{
		Root:      root,
		Namespace: "hsu.plugins",
		NewPlugin: capturingFactory(captured),
		Logger:    createTestLogger(),
	}

	entries := Discover(context.Background(), createTestLogger(), source)

	assert.Equal(t, []string{
		"hsu.plugins.broken.bad",
		"hsu.plugins.greeter",
		"hsu.plugins.relay.thread_relay",
	}, sortedKeys(entries))

	relay := entries["hsu.plugins.relay.thread_relay"]
	assert.Equal(t, OriginPlugin, relay.Origin)
	assert.True(t, relay.Metadata.EnabledByDefault)
	assert.True(t, relay.Metadata.UnloadProtected)
	assert.Equal(t, []string{"--verbose"}, captured["hsu.plugins.relay.thread_relay"].manifest.Args)
	assert.Equal(t, 2*time.Second, captured["hsu.plugins.relay.thread_relay"].manifest.WaitDelay)

	// no sidecar and unparsable sidecar both fall back to defaults
	assert.Equal(t, unit.Metadata{Name: "hsu.plugins.greeter"}, entries["hsu.plugins.greeter"].Metadata)
	assert.Equal(t, unit.Metadata{Name: "hsu.plugins.broken.bad"}, entries["hsu.plugins.broken.bad"].Metadata)
}

func TestDirSource_MissingRoot(t *testing.T) {
	source := &DirSource{Root: filepath.Join(t.TempDir(), "absent"), Namespace: "hsu.plugins"}

	_, err := source.Enumerate(context.Background())
	assert.Error(t, err)

	entries := Discover(context.Background(), createTestLogger(), source)
	assert.Empty(t, entries)
}

func TestDirSource_EmptyRoot(t *testing.T) {
	source := &DirSource{}

	candidates, err := source.Enumerate(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestWatcher_AppendsNewPlugins(t *testing.T) {
	skipOnWindows(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "first"), "#!/bin/sh\n", 0o755)

	logger := createTestLogger()
	source := &DirSource{
		Root:      root,
		Namespace: "hsu.plugins",
		NewPlugin: capturingFactory(make(map[string]capturedPlugin)),
		Logger:    logger,
	}
	registry := New()
	Populate(registry, Discover(context.Background(), logger, source), logger)
	require.Equal(t, []string{"hsu.plugins.first"}, registry.Names())

	added := make(chan []string, 4)
	watcher := &Watcher{
		Source:   source,
		Registry: registry,
		Logger:   logger,
		Debounce: 100 * time.Millisecond,
		OnAdded:  func(names []string) { added <- names },
	}

	cleanup, err := watcher.Start(context.Background())
	require.NoError(t, err)
	defer func() { assert.NoError(t, cleanup()) }()

	writeFile(t, filepath.Join(root, "nested", "second"), "#!/bin/sh\n", 0o755)

	require.Eventually(t, func() bool {
		return registry.Contains("hsu.plugins.nested.second")
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case names := <-added:
		assert.Contains(t, names, "hsu.plugins.nested.second")
	case <-time.After(time.Second):
		t.Fatal("OnAdded was not called")
	}

	// removal never shrinks the registry
	require.NoError(t, os.Remove(filepath.Join(root, "first")))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, registry.Contains("hsu.plugins.first"))
}

func TestWatcher_CleanupWaitsForRescan(t *testing.T) {
	skipOnWindows(t)

	root := t.TempDir()
	logger := createTestLogger()
	source := &DirSource{
		Root:      root,
		Namespace: "hsu.plugins",
		NewPlugin: capturingFactory(make(map[string]capturedPlugin)),
		Logger:    logger,
	}

	started := make(chan struct{})
	var finished atomic.Bool
	watcher := &Watcher{
		Source:   source,
		Registry: New(),
		Logger:   logger,
		Debounce: 20 * time.Millisecond,
		OnAdded: func(names []string) {
			close(started)
			time.Sleep(300 * time.Millisecond)
			finished.Store(true)
		},
	}

	cleanup, err := watcher.Start(context.Background())
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "late"), "#!/bin/sh\n", 0o755)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("OnAdded was not called")
	}

	require.NoError(t, cleanup())
	assert.True(t, finished.Load(), "cleanup returned while OnAdded was still running")
}

func TestWatcher_RequiresDirectory(t *testing.T) {
	watcher := &Watcher{Source: &DirSource{}, Registry: New()}

	_, err := watcher.Start(context.Background())
	assert.Error(t, err)
}
