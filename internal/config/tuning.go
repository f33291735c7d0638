package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/activity.report/internal/features"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/activity.defaults.json"

// TuningConfig represents the recognizer configuration. Every field is
// optional; the Get* methods supply defaults for omitted fields.
type TuningConfig struct {
	// Windowing params
	WindowSize *int `json:"window_size,omitempty"`
	StepSize   *int `json:"step_size,omitempty"`

	// Orientation params
	SmoothingAlpha *float64 `json:"smoothing_alpha,omitempty"`

	// Feature params
	EntropyBins      *int     `json:"entropy_bins,omitempty"`
	PeakHeightOffset *float64 `json:"peak_height_offset,omitempty"`
	PeakProminence   *float64 `json:"peak_prominence,omitempty"`

	// Dispatch params
	FallCooldown *string `json:"fall_cooldown,omitempty"` // duration string like "5s"

	// Model params
	ModelPath *string  `json:"model_path,omitempty"`
	Labels    []string `json:"labels,omitempty"`

	// Transport params
	ListenAddress  *string `json:"listen_address,omitempty"`
	RcvBuf         *int    `json:"rcvbuf,omitempty"`
	StatsInterval  *string `json:"stats_interval,omitempty"` // duration string like "60s"
	ForwardAddress *string `json:"forward_address,omitempty"`

	// Status server params
	StatusAddress *string `json:"status_address,omitempty"`

	// MQTT params (optional; empty broker disables the sink)
	MQTTBroker      *string `json:"mqtt_broker,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty"`
	MQTTQoS         *int    `json:"mqtt_qos,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to the
// value its getter falls back to.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		WindowSize:       ptrInt(100),
		StepSize:         ptrInt(100),
		SmoothingAlpha:   ptrFloat64(0.9),
		EntropyBins:      ptrInt(5),
		PeakHeightOffset: ptrFloat64(1),
		PeakProminence:   ptrFloat64(1),
		FallCooldown:     ptrString("5s"),
		ModelPath:        ptrString("config/activity.model.json"),
		Labels:           []string{"falling", "jumping", "sitting", "standing", "turning", "walking"},
		ListenAddress:    ptrString(":5555"),
		RcvBuf:           ptrInt(8192),
		StatsInterval:    ptrString("60s"),
		ForwardAddress:   ptrString(""),
		StatusAddress:    ptrString(""),
		MQTTBroker:       ptrString(""),
		MQTTClientID:     ptrString("activity-report"),
		MQTTTopicPrefix:  ptrString("activity"),
		MQTTQoS:          ptrInt(1),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/ and cmd/har-live/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.WindowSize != nil && *c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}
	if c.StepSize != nil && *c.StepSize <= 0 {
		return fmt.Errorf("step_size must be positive, got %d", *c.StepSize)
	}

	if c.SmoothingAlpha != nil {
		if a := *c.SmoothingAlpha; !(a > 0 && a < 1) {
			return fmt.Errorf("smoothing_alpha must be between 0 and 1 exclusive, got %f", a)
		}
	}

	if err := c.FeatureConfig().Validate(); err != nil {
		return err
	}

	for name, v := range map[string]*string{
		"fall_cooldown":  c.FallCooldown,
		"stats_interval": c.StatsInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.RcvBuf != nil && *c.RcvBuf <= 0 {
		return fmt.Errorf("rcvbuf must be positive, got %d", *c.RcvBuf)
	}
	if c.MQTTQoS != nil && (*c.MQTTQoS < 0 || *c.MQTTQoS > 2) {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", *c.MQTTQoS)
	}

	return nil
}

// GetWindowSize returns the window_size value or the default.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 100 // ~1s at 100 Hz
	}
	return *c.WindowSize
}

// GetStepSize returns the step_size value or the window size (no overlap).
func (c *TuningConfig) GetStepSize() int {
	if c.StepSize == nil {
		return c.GetWindowSize()
	}
	return *c.StepSize
}

// GetSmoothingAlpha returns the smoothing_alpha value or the default.
func (c *TuningConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.9
	}
	return *c.SmoothingAlpha
}

// FeatureConfig returns the feature extraction constants.
func (c *TuningConfig) FeatureConfig() features.Config {
	cfg := features.DefaultConfig()
	if c.EntropyBins != nil {
		cfg.EntropyBins = *c.EntropyBins
	}
	if c.PeakHeightOffset != nil {
		cfg.PeakHeightOffset = *c.PeakHeightOffset
	}
	if c.PeakProminence != nil {
		cfg.PeakProminence = *c.PeakProminence
	}
	return cfg
}

// GetFallCooldown parses and returns the FallCooldown as a time.Duration.
func (c *TuningConfig) GetFallCooldown() time.Duration {
	return parseDurationOr(c.FallCooldown, 5*time.Second)
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *TuningConfig) GetStatsInterval() time.Duration {
	return parseDurationOr(c.StatsInterval, 60*time.Second)
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetModelPath returns the model_path value or the default.
func (c *TuningConfig) GetModelPath() string {
	return stringOr(c.ModelPath, "config/activity.model.json")
}

// GetLabels returns the class names in model order, or nil to use the
// classifier's defaults.
func (c *TuningConfig) GetLabels() []string {
	return c.Labels
}

// GetListenAddress returns the listen_address value or the default.
func (c *TuningConfig) GetListenAddress() string {
	return stringOr(c.ListenAddress, ":5555")
}

// GetRcvBuf returns the rcvbuf value or the default.
func (c *TuningConfig) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return 8192
	}
	return *c.RcvBuf
}

// GetForwardAddress returns the forward_address value; empty disables
// forwarding.
func (c *TuningConfig) GetForwardAddress() string { return stringOr(c.ForwardAddress, "") }

// GetStatusAddress returns the status_address value; empty disables the
// status server.
func (c *TuningConfig) GetStatusAddress() string { return stringOr(c.StatusAddress, "") }

// GetMQTTBroker returns the mqtt_broker value; empty disables MQTT.
func (c *TuningConfig) GetMQTTBroker() string { return stringOr(c.MQTTBroker, "") }

// GetMQTTClientID returns the mqtt_client_id value or the default.
func (c *TuningConfig) GetMQTTClientID() string {
	return stringOr(c.MQTTClientID, "activity-report")
}

// GetMQTTTopicPrefix returns the mqtt_topic_prefix value or the default.
func (c *TuningConfig) GetMQTTTopicPrefix() string {
	return stringOr(c.MQTTTopicPrefix, "activity")
}

// GetMQTTQoS returns the mqtt_qos value or the default.
func (c *TuningConfig) GetMQTTQoS() byte {
	if c.MQTTQoS == nil {
		return 1
	}
	return byte(*c.MQTTQoS)
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
