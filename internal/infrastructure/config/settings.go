// Package config loads worker/application settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds process-level configuration. Per-release integration
// configuration lives in its own JSON documents, not here.
type Settings struct {
	// Environment is the deployment environment name seen by
	// environment-switching providers.
	Environment string `yaml:"environment"`

	// ConfigDir is the directory of per-release configuration documents.
	ConfigDir string `yaml:"config_dir"`

	// DeadLetterPath is the JSONL file failed integrations append to.
	DeadLetterPath string `yaml:"dead_letter_path"`

	// StorageDir is the root directory of the file and document store.
	StorageDir string `yaml:"storage_dir"`

	// EventLogPath is the JSONL event log used for the read-after-write
	// visibility check.
	EventLogPath string `yaml:"event_log_path"`

	// HTTPTimeoutSeconds bounds one web-service integration call.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`

	OAuth struct {
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"oauth"`

	Worker struct {
		QueueBuffer int `yaml:"queue_buffer"`
	} `yaml:"worker"`
}

// Defaults returns settings suitable for local development.
func Defaults() *Settings {
	s := &Settings{
		Environment:        "Development",
		ConfigDir:          "configurations",
		DeadLetterPath:     "deadletters.jsonl",
		StorageDir:         "storage",
		EventLogPath:       "events.jsonl",
		HTTPTimeoutSeconds: 30,
	}
	s.Worker.QueueBuffer = 64
	return s
}

// Load reads settings from a YAML file, applying defaults and environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	} else if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if env := os.Getenv("COVERLOOP_ENVIRONMENT"); env != "" {
		s.Environment = env
	}
	if dir := os.Getenv("COVERLOOP_CONFIG_DIR"); dir != "" {
		s.ConfigDir = dir
	}
	if secret := os.Getenv("COVERLOOP_OAUTH_CLIENT_SECRET"); secret != "" {
		s.OAuth.ClientSecret = secret
	}
	return s, nil
}
