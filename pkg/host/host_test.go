package host

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/registry"
	"github.com/core-tools/hsu-extensions/pkg/unit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger is a mock implementation of Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func createTestLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

type recorder struct {
	mutex sync.Mutex
	calls []string
}

func (r *recorder) record(call string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.calls...)
}

type testUnit struct {
	name          string
	rec           *recorder
	setupErr      error
	teardownErr   error
	teardownPanic bool
	teardownDelay time.Duration
	group         string
}

func (u *testUnit) Setup(ctx context.Context, host unit.Host) error {
	u.rec.record("setup " + u.name)
	if u.group != "" {
		if err := host.AddHandler(unit.HandlerFunc{
			GroupName: u.group,
			Fn: func(ctx context.Context, args []string) (string, error) {
				return u.name + ": " + strings.Join(args, " "), nil
			},
		}); err != nil {
			return err
		}
	}
	return u.setupErr
}

func (u *testUnit) Teardown(ctx context.Context) error {
	u.rec.record("teardown " + u.name)
	time.Sleep(u.teardownDelay)
	if u.teardownPanic {
		panic("teardown exploded")
	}
	return u.teardownErr
}

func descriptor(rec *recorder, leaf string, enabled bool, configure func(u *testUnit)) unit.Descriptor {
	name := unit.Join(DefaultExtensionsNamespace, leaf)
	return unit.Descriptor{
		Name: name,
		New: func() unit.Unit {
			u := &testUnit{name: name, rec: rec}
			if configure != nil {
				configure(u)
			}
			return u
		},
		Metadata: &unit.Metadata{EnabledByDefault: enabled},
	}
}

func createTestHost(t *testing.T, options HostOptions, descriptors ...unit.Descriptor) *Host {
	t.Helper()
	catalog := unit.NewCatalog().Add(descriptors...)
	return newHost(options, catalog, createTestLogger())
}

func addTestPlugin(t *testing.T, h *Host, rec *recorder, leaf string, enabled bool, configure func(u *testUnit)) {
	t.Helper()
	name := unit.Join(DefaultPluginsNamespace, leaf)
	require.NoError(t, h.registry.Add(registry.Entry{
		Metadata: unit.Metadata{Name: name, EnabledByDefault: enabled},
		Origin:   registry.OriginPlugin,
		Source:   "test",
		New: func() unit.Unit {
			u := &testUnit{name: name, rec: rec}
			if configure != nil {
				configure(u)
			}
			return u
		},
	}))
}

func TestHost_StartLoadsDefaults(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{},
		descriptor(rec, "utils.ping", true, nil),
		descriptor(rec, "utils.idle", false, nil),
	)
	addTestPlugin(t, h, rec, "music", true, nil)
	addTestPlugin(t, h, rec, "games", false, nil)

	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, HostStateRunning, h.GetHostState())

	assert.Equal(t, []string{
		"hsu.extensions.core.extension_manager",
		"hsu.extensions.utils.ping",
		"hsu.plugins.music",
	}, h.ActiveUnits())
	assert.Equal(t, []string{ExtensionGroup, PluginGroup}, h.CommandGroups())

	// extensions load before plugins
	assert.Equal(t, []string{"setup hsu.extensions.utils.ping", "setup hsu.plugins.music"}, rec.Calls())
}

func TestHost_StartFailsOnDefaultExtensionFailure(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{},
		descriptor(rec, "utils.broken", true, func(u *testUnit) { u.setupErr = stderrors.New("boom") }),
	)

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInternalError(err))
	assert.Equal(t, HostStateNotStarted, h.GetHostState())
}

func TestHost_StartToleratesPluginFailure(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{})
	addTestPlugin(t, h, rec, "broken", true, func(u *testUnit) { u.setupErr = stderrors.New("boom") })
	addTestPlugin(t, h, rec, "music", true, nil)

	require.NoError(t, h.Start(context.Background()))
	assert.Contains(t, h.ActiveUnits(), "hsu.plugins.music")
	assert.NotContains(t, h.ActiveUnits(), "hsu.plugins.broken")
}

func TestHost_StartTwice(t *testing.T) {
	h := createTestHost(t, HostOptions{})
	require.NoError(t, h.Start(context.Background()))

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestHost_Dispatch(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{},
		descriptor(rec, "utils.ping", false, func(u *testUnit) { u.group = "ping" }),
		descriptor(rec, "fun.foo", false, nil),
		descriptor(rec, "utils.foo", false, nil),
	)
	ctx := context.Background()

	t.Run("before_start", func(t *testing.T) {
		_, err := h.Dispatch(ctx, ExtensionGroup, []string{"list"})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	require.NoError(t, h.Start(ctx))

	t.Run("load_by_leaf", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"l", "ping"})
		require.NoError(t, err)
		assert.Equal(t, ":thumbsup: Extension successfully loaded: `hsu.extensions.utils.ping`.", response)
	})

	t.Run("unit_group_routed", func(t *testing.T) {
		response, err := h.Dispatch(ctx, "ping", []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, "hsu.extensions.utils.ping: a b", response)
	})

	t.Run("already_loaded", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"load", "utils.ping"})
		require.NoError(t, err)
		assert.Equal(t, ":x: Extension `hsu.extensions.utils.ping` is already loaded.", response)
	})

	t.Run("ambiguous_name", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"load", "foo"})
		require.NoError(t, err)
		assert.Contains(t, response, "ambiguous")
		assert.Contains(t, response, "hsu.extensions.fun.foo\nhsu.extensions.utils.foo")
	})

	t.Run("unknown_name", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"load", "nope"})
		require.NoError(t, err)
		assert.Equal(t, ":x: Could not find the extension `nope`.", response)
	})

	t.Run("manager_is_protected", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"unload", "extension_manager"})
		require.NoError(t, err)
		assert.Contains(t, response, "may not be unloaded")
		assert.Contains(t, h.ActiveUnits(), "hsu.extensions.core.extension_manager")
	})

	t.Run("unload_removes_group", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"ul", "ping"})
		require.NoError(t, err)
		assert.Equal(t, ":thumbsup: Extension successfully unloaded: `hsu.extensions.utils.ping`.", response)

		_, err = h.Dispatch(ctx, "ping", nil)
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("help_without_names", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"reload"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(response, "Usage: ext"))
	})

	t.Run("help_for_unknown_verb", func(t *testing.T) {
		response, err := h.Dispatch(ctx, PluginGroup, []string{"frobnicate", "x"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(response, "Usage: plugins"))
	})

	t.Run("list", func(t *testing.T) {
		response, err := h.Dispatch(ctx, ExtensionGroup, []string{"ls"})
		require.NoError(t, err)
		assert.Contains(t, response, "**Hsu - Extensions - Core**")
		assert.Contains(t, response, ":green_circle:  extension_manager")
		assert.Contains(t, response, ":red_circle:  ping")
	})
}

func TestHost_Status(t *testing.T) {
	h := createTestHost(t, HostOptions{})
	require.NoError(t, h.Start(context.Background()))

	status := h.Status(context.Background())
	assert.True(t, strings.HasPrefix(status, "Extension List\n"))
	assert.Contains(t, status, "\nPlugin List\n")
	assert.Contains(t, status, "( There are no plugins installed. )")
}

func TestHost_StopOrder(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{},
		descriptor(rec, "utils.ping", true, func(u *testUnit) { u.group = "ping" }),
	)
	addTestPlugin(t, h, rec, "music", true, nil)

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(context.Background()))

	assert.Equal(t, HostStateStopped, h.GetHostState())
	assert.Empty(t, h.ActiveUnits())
	assert.Empty(t, h.CommandGroups())

	calls := rec.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "teardown hsu.plugins.music", calls[2])
	assert.Equal(t, "teardown hsu.extensions.utils.ping", calls[3])
}

func TestHost_StopToleratesFailures(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{},
		descriptor(rec, "utils.panicky", true, func(u *testUnit) { u.teardownPanic = true }),
		descriptor(rec, "utils.ping", true, nil),
	)
	addTestPlugin(t, h, rec, "failing", true, func(u *testUnit) { u.teardownErr = stderrors.New("still busy") })

	require.NoError(t, h.Start(context.Background()))

	err := h.Stop(context.Background())
	require.Error(t, err)

	var collection *errors.ErrorCollection
	require.ErrorAs(t, err, &collection)
	assert.Len(t, collection.Errors, 2)

	assert.Empty(t, h.ActiveUnits())
	assert.Contains(t, rec.Calls(), "teardown hsu.extensions.utils.ping")
	assert.Equal(t, HostStateStopped, h.GetHostState())
}

func TestHost_StopPastDeadlineUnloadsEverything(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{ForceShutdownTimeout: 50 * time.Millisecond},
		descriptor(rec, "utils.ping", true, nil),
	)
	addTestPlugin(t, h, rec, "a_slow", true, func(u *testUnit) { u.teardownDelay = 150 * time.Millisecond })
	addTestPlugin(t, h, rec, "b_next", true, nil)

	require.NoError(t, h.Start(context.Background()))
	_ = h.Stop(context.Background())

	assert.Empty(t, h.ActiveUnits())
	assert.Empty(t, h.CommandGroups())
	calls := rec.Calls()
	assert.Contains(t, calls, "teardown hsu.plugins.a_slow")
	assert.Contains(t, calls, "teardown hsu.plugins.b_next")
	assert.Contains(t, calls, "teardown hsu.extensions.utils.ping")
}

func TestHost_EnvironmentGate(t *testing.T) {
	populated := Environment{
		ID:       "42",
		Roles:    []string{"admin"},
		Members:  []string{"alice"},
		Channels: []string{"general"},
	}

	t.Run("populated_environment_opens_gate", func(t *testing.T) {
		h := createTestHost(t, HostOptions{})
		assert.False(t, h.IsEnvironmentAvailable())

		done := make(chan error, 1)
		go func() { done <- h.WaitUntilEnvironmentAvailable(context.Background()) }()

		h.OnEnvironmentAvailable(context.Background(), populated)

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter was not released")
		}

		h.OnEnvironmentUnavailable(populated)
		assert.False(t, h.IsEnvironmentAvailable())
	})

	t.Run("other_guild_ignored", func(t *testing.T) {
		h := createTestHost(t, HostOptions{GuildID: "7"})
		h.OnEnvironmentAvailable(context.Background(), populated)
		assert.False(t, h.IsEnvironmentAvailable())
	})

	t.Run("empty_cache_runs_probe", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		h := createTestHost(t, HostOptions{ProbeURL: server.URL})
		h.OnEnvironmentAvailable(context.Background(), Environment{ID: "42"})

		assert.Equal(t, int32(1), hits.Load())
		assert.False(t, h.IsEnvironmentAvailable())
	})

	t.Run("partial_cache_keeps_gate_closed", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		h := createTestHost(t, HostOptions{ProbeURL: server.URL})
		h.OnEnvironmentAvailable(context.Background(), Environment{ID: "42", Roles: []string{"admin"}})

		assert.Equal(t, int32(1), hits.Load())
		assert.False(t, h.IsEnvironmentAvailable())
	})

	t.Run("wait_cancelled", func(t *testing.T) {
		h := createTestHost(t, HostOptions{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := h.WaitUntilEnvironmentAvailable(ctx)
		require.Error(t, err)
		assert.True(t, errors.IsCancelledError(err))
	})
}

func TestHost_UnitWaitsForEnvironment(t *testing.T) {
	rec := &recorder{}
	ready := make(chan error, 1)
	h := createTestHost(t, HostOptions{}, unit.Descriptor{
		Name: "hsu.extensions.utils.waiter",
		New: func() unit.Unit {
			return unit.Funcs{SetupFunc: func(ctx context.Context, host unit.Host) error {
				go func() { ready <- host.WaitUntilReady(context.Background()) }()
				rec.record("setup")
				return nil
			}}
		},
		Metadata: &unit.Metadata{EnabledByDefault: true},
	})
	require.NoError(t, h.Start(context.Background()))

	select {
	case <-ready:
		t.Fatal("unit became ready before the environment")
	case <-time.After(20 * time.Millisecond):
	}

	h.OnEnvironmentAvailable(context.Background(), Environment{
		ID:       "1",
		Roles:    []string{"admin"},
		Members:  []string{"alice"},
		Channels: []string{"general"},
	})

	select {
	case err := <-ready:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("unit was not released")
	}
}

func TestHost_PIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.pid")
	h := createTestHost(t, HostOptions{PIDFile: path})

	require.NoError(t, h.Start(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	require.NoError(t, h.Stop(context.Background()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestHost_NoUnloadConfig(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{Extensions: ExtensionsConfig{NoUnload: []string{"hsu.extensions.utils.ping"}}},
		descriptor(rec, "utils.ping", true, nil),
	)
	require.NoError(t, h.Start(context.Background()))

	response, err := h.Dispatch(context.Background(), ExtensionGroup, []string{"reload", "ping"})
	require.NoError(t, err)
	assert.Contains(t, response, "may not be unloaded")
	assert.Equal(t, []string{"setup hsu.extensions.utils.ping"}, rec.Calls())
}

func TestHost_PIDFileOfLiveHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())+"\n"), 0o644))

	h := createTestHost(t, HostOptions{PIDFile: path})
	err := h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	require.NoError(t, h.Stop(context.Background()))
	_, err = os.Stat(path)
	assert.NoError(t, err, "PID file of the other host must survive")
}

func TestHost_StalePIDFileReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	h := createTestHost(t, HostOptions{PIDFile: path})
	require.NoError(t, h.Start(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
}

func TestHost_DiscoveredPluginsAutoLoad(t *testing.T) {
	rec := &recorder{}
	h := createTestHost(t, HostOptions{})
	require.NoError(t, h.Start(context.Background()))

	addTestPlugin(t, h, rec, "eager", true, nil)
	addTestPlugin(t, h, rec, "lazy", false, nil)
	h.onPluginsAdded([]string{"hsu.plugins.eager", "hsu.plugins.lazy"})

	assert.Contains(t, h.ActiveUnits(), "hsu.plugins.eager")
	assert.NotContains(t, h.ActiveUnits(), "hsu.plugins.lazy")
}
