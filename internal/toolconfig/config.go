// Package toolconfig reads the quantization tool configuration: the preset
// policy and the user constraints on weights and activations.
package toolconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/quantcfg/internal/quant"
)

var (
	ErrMalformed         = errors.New("toolconfig: malformed tool configuration")
	ErrUnsupportedPreset = errors.New("toolconfig: unsupported preset")
)

type Preset string

const (
	Accuracy    Preset = "accuracy"
	Mixed       Preset = "mixed"
	Performance Preset = "performance"
)

// Presets lists the supported presets.
var Presets = []Preset{Accuracy, Mixed, Performance}

func ParsePreset(s string) (Preset, error) {
	for _, p := range Presets {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q, supported values are %v", ErrUnsupportedPreset, s, Presets)
}

// Config is the tool configuration document. Pointer fields distinguish an
// unset value from a zero one.
type Config struct {
	Preset            *string       `yaml:"preset"`
	HardwareConfig    string        `yaml:"hardware_config"`
	InplaceStatistics *bool         `yaml:"inplace_statistics"`
	Weights           *QuantSection `yaml:"weights"`
	Activations       *QuantSection `yaml:"activations"`
}

// QuantSection constrains the configurations of one quantization kind.
type QuantSection struct {
	Bits           *int            `yaml:"bits"`
	Mode           *string         `yaml:"mode"`
	Granularity    *string         `yaml:"granularity"`
	LevelLow       *int64          `yaml:"level_low"`
	LevelHigh      *int64          `yaml:"level_high"`
	RangeEstimator *RangeEstimator `yaml:"range_estimator"`
}

// RangeEstimator overrides how the range of a quantized tensor is estimated.
type RangeEstimator struct {
	Preset string    `yaml:"preset"`
	Min    *StatSpec `yaml:"min"`
	Max    *StatSpec `yaml:"max"`
}

type StatSpec struct {
	Type        string   `yaml:"type"`
	Aggregator  string   `yaml:"aggregator"`
	OutlierProb *float64 `yaml:"outlier_prob"`
}

func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("toolconfig: read %s: %w", path, err)
	}
	return Parse(data)
}

func Load(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("toolconfig: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML (or JSON) and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field that later stages would otherwise reject
// halfway through a run.
func (c Config) Validate() error {
	if c.Preset != nil {
		if _, err := ParsePreset(*c.Preset); err != nil {
			return err
		}
	}
	for _, kind := range []quant.Kind{quant.Weights, quant.Activations} {
		if _, err := c.Constraint(kind); err != nil {
			return err
		}
		if sec := c.section(kind); sec != nil && sec.RangeEstimator != nil {
			re := sec.RangeEstimator
			switch re.Preset {
			case "", "default", "quantile":
			default:
				return fmt.Errorf("%w: %s range_estimator preset %q", ErrMalformed, kind, re.Preset)
			}
			for _, s := range []*StatSpec{re.Min, re.Max} {
				if s != nil && s.OutlierProb != nil && (*s.OutlierProb < 0 || *s.OutlierProb >= 1) {
					return fmt.Errorf("%w: %s outlier_prob must be in [0, 1)", ErrMalformed, kind)
				}
			}
		}
	}
	return nil
}

// PresetOrDefault returns the configured preset, performance when unset.
func (c Config) PresetOrDefault() Preset {
	if c.Preset == nil {
		return Performance
	}
	return Preset(*c.Preset)
}

// Inplace reports whether statistics are reduced inside the graph. Default true.
func (c Config) Inplace() bool {
	return c.InplaceStatistics == nil || *c.InplaceStatistics
}

func (c Config) section(kind quant.Kind) *QuantSection {
	if kind == quant.Weights {
		return c.Weights
	}
	return c.Activations
}

// RangeEstimatorFor returns the override for kind, or nil.
func (c Config) RangeEstimatorFor(kind quant.Kind) *RangeEstimator {
	if sec := c.section(kind); sec != nil {
		return sec.RangeEstimator
	}
	return nil
}

// Constraint converts the section for kind to a candidate constraint.
func (c Config) Constraint(kind quant.Kind) (quant.Constraint, error) {
	sec := c.section(kind)
	if sec == nil {
		return quant.Constraint{}, nil
	}
	out := quant.Constraint{Bits: sec.Bits, LevelLow: sec.LevelLow, LevelHigh: sec.LevelHigh}
	if sec.Bits != nil && *sec.Bits <= 0 {
		return quant.Constraint{}, fmt.Errorf("%w: %s bits must be positive", ErrMalformed, kind)
	}
	if sec.Mode != nil {
		m, err := quant.ParseMode(*sec.Mode)
		if err != nil {
			return quant.Constraint{}, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		out.Mode = &m
	}
	if sec.Granularity != nil {
		g, err := quant.ParseGranularity(*sec.Granularity)
		if err != nil {
			return quant.Constraint{}, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		out.Granularity = &g
	}
	return out, nil
}
