package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/radiolith/jamguard/internal/channel"
	"github.com/radiolith/jamguard/internal/classify"
	"github.com/radiolith/jamguard/internal/spectrum"
)

// TimeDuration is a time.Duration that marshals to and from strings
// like "750ms" or "2s".
type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d *TimeDuration) MarshalYAML() (interface{}, error) {
	return time.Duration(*d).String(), nil
}

func (d *TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(*d).String())
}

// Config represents the monitor application configuration
type Config struct {
	Settings   Settings         `yaml:"settings" json:"settings"`
	Link       LinkConfig       `yaml:"link" json:"link"`
	Detection  DetectionConfig  `yaml:"detection" json:"detection"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Channels   ChannelsConfig   `yaml:"channels" json:"channels"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Report     ReportConfig     `yaml:"report" json:"report"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel" json:"logLevel"` // debug, info, warn or error (default: info)
	Seed     int64  `yaml:"seed" json:"seed"`         // 0 draws a random seed; the seed used is always logged
}

// LinkConfig describes the simulated radio link
type LinkConfig struct {
	Frequency  float64      `yaml:"frequency" json:"frequency"`   // Carrier frequency of the link signal
	NoiseLevel float64      `yaml:"noiseLevel" json:"noiseLevel"` // Sigma of the Gaussian noise on the carrier
	Interval   TimeDuration `yaml:"interval" json:"interval"`     // Delay between recovery cycles
	Cycles     int          `yaml:"cycles" json:"cycles"`         // Cycles to run, 0 runs until interrupted
}

// DetectionConfig tunes the spectrum scorer
type DetectionConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold"` // Max amplitude above which traffic is anomalous
}

// ClassifierConfig tunes the KNN jamming classifier and its training run
type ClassifierConfig struct {
	Neighbors    int          `yaml:"neighbors" json:"neighbors"`
	CleanCount   int          `yaml:"cleanCount" json:"cleanCount"`
	JammedCount  int          `yaml:"jammedCount" json:"jammedCount"`
	CleanNoise   float64      `yaml:"cleanNoise" json:"cleanNoise"`
	JammedNoise  float64      `yaml:"jammedNoise" json:"jammedNoise"`
	TrainTimeout TimeDuration `yaml:"trainTimeout" json:"trainTimeout"`
}

// ChannelsConfig holds the hop plan
type ChannelsConfig struct {
	Plan channel.Plan `yaml:"plan" json:"plan"` // At least two distinct channels
}

// StorageConfig represents recovery journal settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory"`
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// ReportConfig represents the MQTT status reporting settings
type ReportConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker"`
	Topic    string `yaml:"topic" json:"topic"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	QoS      byte   `yaml:"qos" json:"qos"`
}

// DefaultConfig returns a configuration with every field set to its
// default value.
func DefaultConfig() *Config {
	training := classify.DefaultTrainingConfig()

	return &Config{
		Settings: Settings{
			LogLevel: "info",
		},
		Link: LinkConfig{
			Frequency:  training.Frequency,
			NoiseLevel: training.CleanNoise,
			Interval:   TimeDuration(time.Second),
		},
		Detection: DetectionConfig{
			Threshold: spectrum.DefaultThreshold,
		},
		Classifier: ClassifierConfig{
			Neighbors:    classify.DefaultNeighbors,
			CleanCount:   training.CleanCount,
			JammedCount:  training.JammedCount,
			CleanNoise:   training.CleanNoise,
			JammedNoise:  training.JammedNoise,
			TrainTimeout: TimeDuration(30 * time.Second),
		},
		Channels: ChannelsConfig{
			Plan: channel.DefaultPlan(),
		},
		Storage: StorageConfig{
			DataDirectory: "",
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
		Report: ReportConfig{
			Topic: "jamguard/status",
			QoS:   1,
		},
	}
}

// LoadConfig reads and validates a YAML configuration file. Fields not
// present in the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := DefaultConfig()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Level parses the configured log level.
func (s *Settings) Level() (slog.Level, error) {
	switch strings.ToLower(s.LogLevel) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("app.Config: unknown log level: %s", s.LogLevel)
	}
}

func (c *Config) Validate() error {
	if _, err := c.Settings.Level(); err != nil {
		return err
	}

	if c.Link.Frequency <= 0 {
		return fmt.Errorf("app.Config: link frequency must be positive: %v given", c.Link.Frequency)
	}
	if c.Link.NoiseLevel < 0 {
		return fmt.Errorf("app.Config: link noise level must not be negative: %v given", c.Link.NoiseLevel)
	}
	if time.Duration(c.Link.Interval) <= 0 {
		return fmt.Errorf("app.Config: link interval must be positive: %s given", time.Duration(c.Link.Interval))
	}
	if c.Link.Cycles < 0 {
		return fmt.Errorf("app.Config: link cycles must not be negative: %d given", c.Link.Cycles)
	}

	if c.Detection.Threshold <= 0 {
		return fmt.Errorf("app.Config: detection threshold must be positive: %v given", c.Detection.Threshold)
	}

	if c.Classifier.Neighbors <= 0 {
		return fmt.Errorf("app.Config: classifier neighbors must be positive: %d given", c.Classifier.Neighbors)
	}
	if c.Classifier.CleanCount <= 0 || c.Classifier.JammedCount <= 0 {
		return fmt.Errorf("app.Config: classifier sample counts must be positive: %d and %d given",
			c.Classifier.CleanCount, c.Classifier.JammedCount)
	}
	if c.Classifier.CleanNoise < 0 || c.Classifier.JammedNoise < 0 {
		return fmt.Errorf("app.Config: classifier noise levels must not be negative: %v and %v given",
			c.Classifier.CleanNoise, c.Classifier.JammedNoise)
	}
	if time.Duration(c.Classifier.TrainTimeout) <= 0 {
		return fmt.Errorf("app.Config: classifier train timeout must be positive: %s given",
			time.Duration(c.Classifier.TrainTimeout))
	}

	if err := c.Channels.Plan.Validate(); err != nil {
		return fmt.Errorf("app.Config: invalid channel plan: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("app.Config: metrics listen address required when metrics are enabled")
	}

	if c.Report.Enabled {
		if c.Report.Broker == "" {
			return fmt.Errorf("app.Config: report broker required when reporting is enabled")
		}
		if c.Report.Topic == "" {
			return fmt.Errorf("app.Config: report topic required when reporting is enabled")
		}
	}
	if c.Report.QoS > 2 {
		return fmt.Errorf("app.Config: report QoS must be 0, 1 or 2: %d given", c.Report.QoS)
	}

	return nil
}
