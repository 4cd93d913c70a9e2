package registry

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

const defaultWatchDebounce = 250 * time.Millisecond

// WatchCleanupFunc stops a watcher and waits for it to finish.
type WatchCleanupFunc func() error

// Watcher appends plugin leaves that appear under a DirSource root while the
// process runs. Registered units are never removed by it.
type Watcher struct {
	Source   *DirSource
	Registry *Registry
	Logger   logging.Logger
	Debounce time.Duration
	// OnAdded is called with the sorted names added by each rescan.
	OnAdded func(names []string)
}

// Start begins watching. The returned cleanup function must be called to
// release the underlying file system watcher.
func (w *Watcher) Start(ctx context.Context) (WatchCleanupFunc, error) {
	if w.Source == nil || w.Source.Root == "" {
		return nil, errors.NewValidationError("watcher needs a plugin directory", nil)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create file system watcher", err)
	}

	if err := addDirectories(fsWatcher, w.Source.Root); err != nil {
		_ = fsWatcher.Close()
		return nil, errors.NewIOError("failed to watch plugin directory", err).WithContext("directory", w.Source.Root)
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = fsWatcher.Close()
	})

	var mutex sync.Mutex
	var debouncer *time.Timer
	// rescans run on the watch goroutine so that cleanup waits for them
	trigger := make(chan struct{}, 1)
	requestRescan := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	rescan := func() {
		if sctx.IsStopping() {
			return
		}
		entries := Discover(ctx, w.logger(), w.Source)
		added := w.Registry.AddMissing(entries)
		if len(added) == 0 {
			return
		}
		w.logger().Infof("Hot discovery registered %d plugin(s): %v", len(added), added)
		if w.OnAdded != nil {
			w.OnAdded(added)
		}
	}

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mutex.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mutex.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case <-trigger:
				rescan()

			case event, ok := <-fsWatcher.Events:
				if !ok {
					return nil
				}
				if event.Op&fsnotify.Create != 0 {
					// fsnotify is not recursive; follow new subdirectories
					_ = addDirectories(fsWatcher, event.Name)
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) == 0 {
					continue
				}

				mutex.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(debounce, requestRescan)
				mutex.Unlock()

			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !sctx.IsStopping() {
					w.logger().Warnf("Plugin directory watch error: %v", err)
				}
			}
		}
		return nil
	})

	w.logger().Infof("Watching plugin directory %s", w.Source.Root)

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}
	return cleanup, nil
}

func (w *Watcher) logger() logging.Logger {
	if w.Logger == nil {
		return logging.NewNopLogger()
	}
	return w.Logger
}

func addDirectories(fsWatcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return fsWatcher.Add(path)
	})
}
