// Package scaffold writes a starter configuration file.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/cerebrum/internal/config"
)

// FileName is the configuration file written by Initialize.
const FileName = "cerebrum.yml"

//go:embed templates/*
var templatesFS embed.FS

// CheckExisting returns an error if dir already holds a configuration file.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'cerebrum init --force' to overwrite it", path)
	}
	return nil
}

// Initialize writes the starter configuration into dir and checks that it
// loads. With force an existing file is overwritten. Returns the path
// written.
func Initialize(dir string, force bool) (string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := templatesFS.ReadFile("templates/cerebrum.yml.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to read %s template: %w", FileName, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s does not load: %w", path, err)
	}
	return path, nil
}
