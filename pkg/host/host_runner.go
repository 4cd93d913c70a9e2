package host

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

// OptionsFromConfig converts a loaded configuration into host options.
func OptionsFromConfig(config *HostConfig) HostOptions {
	return HostOptions{
		Port:                 config.Host.Port,
		ForceShutdownTimeout: config.Host.ForceShutdownTimeout,
		GuildID:              config.Host.GuildID,
		ProbeURL:             config.Host.ProbeURL,
		PIDFile:              config.Host.PIDFile,
		Extensions:           config.Extensions,
		Plugins:              config.Plugins,
	}
}

func Run(runDuration int, config *HostConfig, catalog *unit.Catalog, coreLogger corelogging.Logger, hostLogger logging.Logger) error {
	hostLogger.Infof("Host runner starting...")

	// Create context with run duration
	ctx := context.Background()
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		hostLogger.Infof("Using RUN DURATION of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	// Validate configuration
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err)
	}

	hostLogger.Infof("Host port: %d, extensions namespace: %s, plugins namespace: %s, plugin directory: %q",
		config.Host.Port, config.Extensions.Namespace, config.Plugins.Namespace, config.Plugins.Directory)

	host, err := NewHost(OptionsFromConfig(config), catalog, coreLogger, hostLogger)
	if err != nil {
		return errors.NewInternalError("failed to create host", err)
	}

	if err := host.Start(ctx); err != nil {
		// Release whatever the startup pass managed to load
		if stopErr := host.Stop(context.Background()); stopErr != nil {
			hostLogger.Errorf("Cleanup after failed start: %v", stopErr)
		}
		return err
	}

	hostLogger.Infof("Enabling signal handling...")

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	hostLogger.Infof("Host is fully operational")

	// Wait for graceful shutdown or timeout
	select {
	case receivedSignal := <-sig:
		hostLogger.Infof("Host runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		hostLogger.Infof("Host runner timed out")
	}

	hostLogger.Infof("Ready to stop host...")

	// Reset context to background to enable graceful shutdown
	if err := host.Stop(context.Background()); err != nil {
		hostLogger.Errorf("Host stopped with errors: %v", err)
	}

	hostLogger.Infof("Host runner stopped")

	return nil
}

// ValidateConfigFile validates a configuration file without loading/running
func ValidateConfigFile(configFile string) error {
	// Load configuration
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	// Validate configuration
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}
