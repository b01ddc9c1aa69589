package app

import (
	"errors"
	"fmt"
)

// Store backend names accepted in configuration.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	RulesPath    string // hcl rule files: a file or a directory
	StorePath    string // cache store location
	StoreBackend string // "file" or "badger"

	LogFormat   string
	LogLevel    string
	WorkerCount int
	Watch       bool
	DryRun      bool
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.RulesPath == "" {
		return nil, errors.New("RulesPath is a required configuration field and cannot be empty")
	}
	if cfg.StorePath == "" {
		return nil, errors.New("StorePath is a required configuration field and cannot be empty")
	}
	switch cfg.StoreBackend {
	case "":
		cfg.StoreBackend = BackendFile
	case BackendFile, BackendBadger:
	default:
		return nil, fmt.Errorf("unknown store backend '%s'", cfg.StoreBackend)
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return &cfg, nil
}
