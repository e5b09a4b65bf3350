package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"steward/pkg/logging"
)

const (
	userConfigDir  = ".config/steward"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/steward.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath on top of the defaults and
// validates the result. A missing file yields the defaults.
func LoadConfig(configPath string) (StewardConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return StewardConfig{}, err
	}

	if err := decodeStrict(data, &config); err != nil {
		collection := NewConfigurationErrorCollection()
		collection.Add(NewConfigurationErrorWithDetails(configFilePath, "", "parse",
			"malformed configuration", err.Error(),
			[]string{"Check the YAML syntax and field names against the documented configuration"}))
		return StewardConfig{}, collection
	}

	if err := Validate(config, configFilePath); err != nil {
		return StewardConfig{}, err
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// decodeStrict rejects unknown fields so typos surface as errors.
func decodeStrict(data []byte, out *StewardConfig) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
