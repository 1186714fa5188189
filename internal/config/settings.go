package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go-ytdl-host/internal/models"

	log "github.com/sirupsen/logrus"
)

// LoadSettings reads the persisted user settings. A missing file yields
// zero settings and no error.
func LoadSettings(path string) (models.Settings, error) {
	var s models.Settings
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("reading settings %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return models.Settings{}, fmt.Errorf("decoding settings %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes s to path, creating the parent directory.
func SaveSettings(path string, s models.Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing settings %s: %w", path, err)
	}
	return nil
}

// OutputPath returns the saved output directory when it still exists,
// otherwise fallback.
func OutputPath(settingsPath, fallback string) string {
	s, err := LoadSettings(settingsPath)
	if err != nil {
		log.WithError(err).Warn("[Settings] Ignoring unreadable settings file")
		return fallback
	}
	if s.OutputPath == "" {
		return fallback
	}
	if info, err := os.Stat(s.OutputPath); err != nil || !info.IsDir() {
		log.Debugf("[Settings] Saved output path %s no longer exists, using %s", s.OutputPath, fallback)
		return fallback
	}
	return s.OutputPath
}

// SaveOutputPath records dir as the output directory, keeping the other
// settings. Failures are logged only.
func SaveOutputPath(settingsPath, dir string) {
	s, err := LoadSettings(settingsPath)
	if err != nil {
		log.WithError(err).Warn("[Settings] Overwriting unreadable settings file")
		s = models.Settings{}
	}
	if s.OutputPath == dir {
		return
	}
	s.OutputPath = dir
	if err := SaveSettings(settingsPath, s); err != nil {
		log.WithError(err).Warn("[Settings] Could not save output path")
	}
}
