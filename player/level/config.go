package level

import (
	"time"

	"github.com/RyanBlaney/hls-player-core/player/common"
)

// Config holds the level controller configuration
type Config struct {
	// StartLevel overrides the initial rendition; -1 means the manifest's
	// first rendition
	StartLevel int `json:"start_level"`

	// Retry policy for level load errors
	LevelLoadingMaxRetry        int           `json:"level_loading_max_retry"`
	LevelLoadingRetryDelay      time.Duration `json:"level_loading_retry_delay"`
	LevelLoadingMaxRetryTimeout time.Duration `json:"level_loading_max_retry_timeout"`
}

// DefaultConfig returns the default level controller configuration
func DefaultConfig() *Config {
	return &Config{
		StartLevel:                  -1,
		LevelLoadingMaxRetry:        4,
		LevelLoadingRetryDelay:      1000 * time.Millisecond,
		LevelLoadingMaxRetryTimeout: 64 * time.Second,
	}
}

// ConfigFromEngine derives the level configuration from the engine config
func ConfigFromEngine(cfg *common.Config) *Config {
	return &Config{
		StartLevel:                  cfg.StartLevel,
		LevelLoadingMaxRetry:        cfg.LevelLoadingMaxRetry,
		LevelLoadingRetryDelay:      cfg.LevelLoadingRetryDelay,
		LevelLoadingMaxRetryTimeout: cfg.LevelLoadingMaxRetryTimeout,
	}
}
