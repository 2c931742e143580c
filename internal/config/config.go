// Package config loads the tool configuration (JSON, user-editable) and the
// dataset description (YAML, versioned alongside the data).
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/voltex/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the converter.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Server     Server     `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int `json:"parallel_jobs"`
	// Lookahead bounds how many timepoint volumes the page reader may
	// buffer ahead of the writer. Zero means the built-in default.
	Lookahead int  `json:"lookahead"`
	Compress  bool `json:"compress"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // text, json
	FileOutput bool   `json:"file_output"`
	LogDir     string `json:"log_dir"`
}

// Paths configures default input/output locations.
type Paths struct {
	DataRoot     string `json:"data_root"`
	Output       string `json:"output"`
	DatabasePath string `json:"database_path"`
	// DatasetFile is the dataset description, relative paths resolved
	// against DataRoot.
	DatasetFile string `json:"dataset_file"`
}

// Server configures the status HTTP endpoint.
type Server struct {
	Addr string `json:"addr"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// VOLTEX_CONFIG overrides the config file location.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("VOLTEX_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			Compress:     true,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			LogDir: "./logs",
		},
		Paths: Paths{
			DataRoot:     ".",
			Output:       "./converted",
			DatabasePath: filepath.Join(os.TempDir(), "voltex.db"),
			DatasetFile:  "dataset.yaml",
		},
		Server: Server{
			Addr: "127.0.0.1:8480",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
