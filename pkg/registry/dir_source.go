package registry

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/unit"

	"gopkg.in/yaml.v3"
)

// PluginManifest is the optional sidecar "<leaf>.yaml" next to a plugin executable.
type PluginManifest struct {
	EnabledByDefault bool          `yaml:"enabled_by_default"`
	UnloadProtected  bool          `yaml:"unload_protected"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// PluginFactory turns a discovered executable into a unit factory.
type PluginFactory func(name string, executablePath string, manifest PluginManifest) unit.Factory

// DirSource enumerates plugin executables under Root. The qualified name of a
// leaf is Namespace followed by its relative path, extension stripped,
// with path separators turned into dots.
type DirSource struct {
	Root      string
	Namespace string
	NewPlugin PluginFactory
	Logger    logging.Logger
}

func (s *DirSource) Enumerate(ctx context.Context) ([]Candidate, error) {
	if s.Root == "" {
		return nil, nil
	}

	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, errors.NewIOError("plugin directory not accessible", err).WithContext("directory", s.Root)
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError("plugin path is not a directory", nil).WithContext("directory", s.Root)
	}

	logger := s.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var candidates []Candidate
	walkErr := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logger.Warnf("Skipping unreadable plugin path %s: %v", path, err)
			if d != nil && d.IsDir() && path != s.Root {
				return fs.SkipDir
			}
			return nil
		}

		if path != s.Root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || isManifest(path) {
			return nil
		}

		candidate, ok := s.candidate(path, d, logger)
		if ok {
			candidates = append(candidates, candidate)
		}
		return nil
	})
	if walkErr != nil {
		return nil, errors.NewDiscoveryError("plugin directory walk aborted", walkErr).WithContext("directory", s.Root)
	}

	return candidates, nil
}

func (s *DirSource) candidate(path string, d fs.DirEntry, logger logging.Logger) (Candidate, bool) {
	if !d.Type().IsRegular() {
		logger.Warnf("Skipping plugin leaf %s: not a regular file", path)
		return Candidate{}, false
	}

	info, err := d.Info()
	if err != nil {
		logger.Warnf("Skipping plugin leaf %s: %v", path, err)
		return Candidate{}, false
	}
	if !isExecutable(path, info.Mode()) {
		logger.Warnf("Skipping plugin leaf %s: not executable", path)
		return Candidate{}, false
	}

	name, err := s.nameFor(path)
	if err != nil {
		logger.Warnf("Skipping plugin leaf %s: %v", path, err)
		return Candidate{}, false
	}

	manifestPath := manifestPathFor(path)
	manifest, manifestErr := readManifest(manifestPath)

	candidate := Candidate{
		Name:   name,
		Origin: OriginPlugin,
		Source: path,
	}
	if s.NewPlugin != nil {
		candidate.New = s.NewPlugin(name, path, manifest)
	}
	candidate.Declare = func() (*unit.Metadata, error) {
		if manifestErr != nil {
			return nil, manifestErr
		}
		return &unit.Metadata{
			EnabledByDefault: manifest.EnabledByDefault,
			UnloadProtected:  manifest.UnloadProtected,
		}, nil
	}
	return candidate, true
}

func (s *DirSource) nameFor(path string) (string, error) {
	rel, err := filepath.Rel(s.Root, path)
	if err != nil {
		return "", err
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	relName := strings.Join(strings.Split(filepath.ToSlash(rel), "/"), ".")
	return unit.Canonical(unit.Join(s.Namespace, relName)), nil
}

func readManifest(path string) (PluginManifest, error) {
	var manifest PluginManifest

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest, errors.NewNotFoundError("plugin declares no metadata file", nil).WithContext("manifest", path)
		}
		return manifest, errors.NewIOError("failed to read plugin metadata", err).WithContext("manifest", path)
	}

	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return PluginManifest{}, errors.NewValidationError("failed to parse plugin metadata", err).WithContext("manifest", path)
	}
	return manifest, nil
}

func manifestPathFor(executablePath string) string {
	return strings.TrimSuffix(executablePath, filepath.Ext(executablePath)) + ".yaml"
}

func isManifest(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isExecutable(path string, mode fs.FileMode) bool {
	if runtime.GOOS == "windows" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".exe", ".bat", ".cmd":
			return true
		}
		return false
	}
	return mode&0111 != 0
}

func sortedKeys(entries map[string]Entry) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
