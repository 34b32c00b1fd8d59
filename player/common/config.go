package common

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine-wide configuration surface. Component packages
// derive their own narrower configs from it; unset fields fall back to the
// defaults from DefaultConfig.
type Config struct {
	// StartLevel overrides the initial rendition index; -1 means use the
	// manifest's first rendition
	StartLevel int `json:"start_level" yaml:"start_level"`

	// MaxBufferHole is the largest gap, in seconds, still considered
	// contiguous when measuring forward buffer
	MaxBufferHole float64 `json:"max_buffer_hole" yaml:"max_buffer_hole"`

	// Level retry policy
	LevelLoadingMaxRetry        int           `json:"level_loading_max_retry" yaml:"level_loading_max_retry"`
	LevelLoadingRetryDelay      time.Duration `json:"level_loading_retry_delay" yaml:"level_loading_retry_delay"`
	LevelLoadingMaxRetryTimeout time.Duration `json:"level_loading_max_retry_timeout" yaml:"level_loading_max_retry_timeout"`

	// Latency control
	LatencyTarget  time.Duration `json:"latency_target" yaml:"latency_target"`
	RefreshLatency time.Duration `json:"refresh_latency" yaml:"refresh_latency"`

	// ABREwmaFastLive is the half-life, in seconds, of the fast-moving
	// bandwidth estimate for live streams
	ABREwmaFastLive float64 `json:"abr_ewma_fast_live" yaml:"abr_ewma_fast_live"`

	// Caption toggles
	EnableWebVTT             bool `json:"enable_webvtt" yaml:"enable_webvtt"`
	EnableIMSC1              bool `json:"enable_imsc1" yaml:"enable_imsc1"`
	EnableCEA708Captions     bool `json:"enable_cea708_captions" yaml:"enable_cea708_captions"`
	RenderTextTracksNatively bool `json:"render_text_tracks_natively" yaml:"render_text_tracks_natively"`

	// Naming of the four CEA caption channels
	CaptionsTextTrackLabels        [4]string `json:"captions_text_track_labels" yaml:"captions_text_track_labels"`
	CaptionsTextTrackLanguageCodes [4]string `json:"captions_text_track_language_codes" yaml:"captions_text_track_language_codes"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		StartLevel:                  -1,
		MaxBufferHole:               0.5,
		LevelLoadingMaxRetry:        4,
		LevelLoadingRetryDelay:      1000 * time.Millisecond,
		LevelLoadingMaxRetryTimeout: 64 * time.Second,
		LatencyTarget:               3 * time.Second,
		RefreshLatency:              1 * time.Second,
		ABREwmaFastLive:             3.0,
		EnableWebVTT:                true,
		EnableIMSC1:                 true,
		EnableCEA708Captions:        true,
		RenderTextTracksNatively:    true,
		CaptionsTextTrackLabels: [4]string{
			"Unknown CC", "Unknown CC", "Unknown CC", "Unknown CC",
		},
		CaptionsTextTrackLanguageCodes: [4]string{},
	}
}

// ConfigFromMap creates a config from a generic map, useful when embedding
// the engine behind an application config layer
func ConfigFromMap(configMap map[string]any) *Config {
	config := DefaultConfig()
	if configMap == nil {
		return config
	}

	if v, ok := configMap["start_level"].(int); ok {
		config.StartLevel = v
	}
	if v, ok := configMap["max_buffer_hole"].(float64); ok {
		config.MaxBufferHole = v
	}
	if v, ok := configMap["level_loading_max_retry"].(int); ok {
		config.LevelLoadingMaxRetry = v
	}
	if v, ok := configMap["level_loading_retry_delay"].(time.Duration); ok {
		config.LevelLoadingRetryDelay = v
	}
	if v, ok := configMap["level_loading_max_retry_timeout"].(time.Duration); ok {
		config.LevelLoadingMaxRetryTimeout = v
	}
	if v, ok := configMap["latency_target"].(time.Duration); ok {
		config.LatencyTarget = v
	}
	if v, ok := configMap["refresh_latency"].(time.Duration); ok {
		config.RefreshLatency = v
	}
	if v, ok := configMap["abr_ewma_fast_live"].(float64); ok {
		config.ABREwmaFastLive = v
	}
	if v, ok := configMap["enable_webvtt"].(bool); ok {
		config.EnableWebVTT = v
	}
	if v, ok := configMap["enable_imsc1"].(bool); ok {
		config.EnableIMSC1 = v
	}
	if v, ok := configMap["enable_cea708_captions"].(bool); ok {
		config.EnableCEA708Captions = v
	}
	if v, ok := configMap["render_text_tracks_natively"].(bool); ok {
		config.RenderTextTracksNatively = v
	}

	return config
}

// ConfigFromYAML parses a config from YAML bytes over the defaults
func ConfigFromYAML(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxBufferHole < 0 {
		return NewPlayerError(OtherError, ErrInternalException, false,
			"max buffer hole cannot be negative", nil)
	}
	if c.LevelLoadingMaxRetry < 0 {
		return NewPlayerError(OtherError, ErrInternalException, false,
			"level loading max retry cannot be negative", nil)
	}
	if c.LevelLoadingRetryDelay <= 0 {
		return NewPlayerError(OtherError, ErrInternalException, false,
			"level loading retry delay must be positive", nil)
	}
	if c.LatencyTarget <= 0 {
		return NewPlayerError(OtherError, ErrInternalException, false,
			"latency target must be positive", nil)
	}
	return nil
}
