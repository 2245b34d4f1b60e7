package commands

import (
	"io"
	"os"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/scaffold"
)

var configPath string

// resolveConfigPath picks --config, then $CEREBRUM_CONFIG, then
// ./cerebrum.yml.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("CEREBRUM_CONFIG"); env != "" {
		return env
	}
	return scaffold.FileName
}

// loadConfig reads the configuration and applies its logging section. The
// returned closer releases the log file, if any. A missing file means
// defaults.
func loadConfig() (*config.Config, io.Closer, error) {
	path := resolveConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"config": path},
			[]string{
				"Check the file against the documented layout",
				"Environment overrides use the CEREBRUM_ prefix, e.g. CEREBRUM_REVIEW_SCOPE=per_task",
			},
		)
	}

	closer, err := logger.Configure(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, printer.Error("invalid logging configuration", err.Error(), nil)
	}
	return cfg, closer, nil
}
