package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the user defaults file (~/.config/quantcfg/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Hardware   string `yaml:"hardware"`
	ToolConfig string `yaml:"tool_config"`
	Preset     string `yaml:"preset"`

	Statistics      *bool  `yaml:"statistics"`
	MetricsTextfile string `yaml:"metrics_textfile"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	StoreCapacity *int   `yaml:"store_capacity"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quantcfg", "config.yaml")
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyInputConfig applies config file defaults to the input flags when the
// corresponding flag was not explicitly set.
func applyInputConfig(c *cli.Command, cfg Config) {
	if cfg.Hardware != "" && !c.IsSet("hardware") {
		hardwarePath = cfg.Hardware
	}
	if cfg.ToolConfig != "" && !c.IsSet("config") {
		toolConfigPath = cfg.ToolConfig
	}
}

func applyResolveConfig(c *cli.Command, cfg Config, preset *string, noStatistics *bool, metricsTextfile *string) {
	applyInputConfig(c, cfg)
	if cfg.Preset != "" && !c.IsSet("preset") {
		*preset = cfg.Preset
	}
	if cfg.Statistics != nil && !c.IsSet("no-statistics") {
		*noStatistics = !*cfg.Statistics
	}
	if cfg.MetricsTextfile != "" && !c.IsSet("metrics-textfile") {
		*metricsTextfile = cfg.MetricsTextfile
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string, capacity *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.StoreCapacity != nil && !c.IsSet("store-capacity") {
		*capacity = int64(*cfg.StoreCapacity)
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
