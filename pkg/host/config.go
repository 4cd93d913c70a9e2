package host

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/unit"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort                 = 50056
	DefaultExtensionsNamespace  = "hsu.extensions"
	DefaultPluginsNamespace     = "hsu.plugins"
	DefaultForceShutdownTimeout = 30 * time.Second
)

// HostConfig represents the top-level configuration file structure
type HostConfig struct {
	Host       HostConfigOptions `yaml:"host"`
	Extensions ExtensionsConfig  `yaml:"extensions"`
	Plugins    PluginsConfig     `yaml:"plugins"`
	Logging    logging.ZapConfig `yaml:"logging"`
}

// HostConfigOptions represents host-level configuration
type HostConfigOptions struct {
	Port                 int           `yaml:"port" env:"HSU_PORT"`
	LogLevel             string        `yaml:"log_level,omitempty" env:"HSU_LOG_LEVEL"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty" env:"HSU_FORCE_SHUTDOWN_TIMEOUT"`
	// GuildID restricts environment availability events to one guild.
	GuildID string `yaml:"guild_id,omitempty" env:"HSU_GUILD_ID"`
	// ProbeURL is fetched for diagnostics when an available environment
	// reports an empty cache.
	ProbeURL string `yaml:"probe_url,omitempty" env:"HSU_PROBE_URL"`
	PIDFile  string `yaml:"pid_file,omitempty" env:"HSU_PID_FILE"`
}

type ExtensionsConfig struct {
	Namespace string `yaml:"namespace,omitempty"`
	// NoUnload lists extensions that may never be unloaded by command.
	NoUnload []string `yaml:"no_unload,omitempty" env:"HSU_NO_UNLOAD" envSeparator:","`
}

type PluginsConfig struct {
	Namespace string `yaml:"namespace,omitempty"`
	Directory string `yaml:"directory,omitempty" env:"HSU_PLUGINS_DIR"`
	Watch     bool   `yaml:"watch,omitempty" env:"HSU_PLUGINS_WATCH"`
}

// LoadConfigFromFile loads host configuration from a YAML file, applies
// defaults, then environment overrides.
func LoadConfigFromFile(filename string) (*HostConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.NewValidationError("invalid configuration file", err).WithContext("filename", filename)
	}
	return config, nil
}

// ParseConfig parses YAML configuration data.
func ParseConfig(data []byte) (*HostConfig, error) {
	// an empty level falls back to host.log_level in setConfigDefaults
	defaults := logging.DefaultZapConfig()
	defaults.Level = ""
	config := HostConfig{Logging: defaults}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply environment overrides", err)
	}

	setConfigDefaults(&config)
	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *HostConfig) {
	if config.Host.Port == 0 {
		config.Host.Port = DefaultPort
	}
	if config.Host.LogLevel == "" {
		config.Host.LogLevel = "info"
	}
	if config.Host.ForceShutdownTimeout == 0 {
		config.Host.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}
	if config.Logging.Level == "" {
		config.Logging.Level = config.Host.LogLevel
	}

	if config.Extensions.Namespace == "" {
		config.Extensions.Namespace = DefaultExtensionsNamespace
	}
	config.Extensions.Namespace = unit.Canonical(config.Extensions.Namespace)
	for i, name := range config.Extensions.NoUnload {
		config.Extensions.NoUnload[i] = unit.Canonical(name)
	}

	if config.Plugins.Namespace == "" {
		config.Plugins.Namespace = DefaultPluginsNamespace
	}
	config.Plugins.Namespace = unit.Canonical(config.Plugins.Namespace)
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *HostConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateHostConfig(&config.Host); err != nil {
		return errors.NewValidationError("invalid host configuration", err)
	}

	if err := validateNamespace(config.Extensions.Namespace); err != nil {
		return errors.NewValidationError("invalid extensions configuration", err)
	}
	if err := validateNamespace(config.Plugins.Namespace); err != nil {
		return errors.NewValidationError("invalid plugins configuration", err)
	}
	if config.Extensions.Namespace == config.Plugins.Namespace {
		return errors.NewValidationError("extensions and plugins must use different namespaces", nil).
			WithContext("namespace", config.Extensions.Namespace)
	}

	for _, name := range config.Extensions.NoUnload {
		if err := unit.ValidateName(name); err != nil {
			return errors.NewValidationError("invalid no_unload entry", err).WithContext("name", name)
		}
	}

	if config.Plugins.Watch && config.Plugins.Directory == "" {
		return errors.NewValidationError("plugin watching requires a plugin directory", nil)
	}

	return nil
}

func validateHostConfig(config *HostConfigOptions) error {
	if err := ValidatePort(config.Port); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", config.Port),
			err,
		).WithContext("valid_range", "1-65535")
	}

	if _, ok := logging.ParseLevel(config.LogLevel); !ok {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	if err := ValidateTimeout(config.ForceShutdownTimeout, "force shutdown"); err != nil {
		return err
	}

	return nil
}

// validateNamespace accepts one or more dot-separated segments.
func validateNamespace(namespace string) error {
	if namespace == "" {
		return errors.NewValidationError("namespace cannot be empty", nil)
	}
	// a namespace is valid iff a leaf can be appended to it
	if err := unit.ValidateName(unit.Join(namespace, "x")); err != nil {
		return errors.NewValidationError("invalid namespace: "+namespace, err)
	}
	return nil
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateTimeout validates timeout duration
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" timeout cannot be negative", nil)
	}

	if timeout == 0 {
		return errors.NewValidationError(name+" timeout cannot be zero", nil)
	}

	return nil
}
