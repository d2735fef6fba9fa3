// Package quant holds quantization configuration candidates and the set
// algebra used to narrow them.
package quant

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Kind tells whether a quantization point guards weights or activations.
type Kind uint8

const (
	Activations Kind = iota
	Weights
)

func (k Kind) String() string {
	if k == Weights {
		return "weights"
	}
	return "activations"
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "weights":
		return Weights, nil
	case "activations":
		return Activations, nil
	}
	return Activations, fmt.Errorf("quant: unknown quantization kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

type Mode uint8

const (
	Symmetric Mode = iota
	Asymmetric
)

func (m Mode) String() string {
	if m == Asymmetric {
		return "asymmetric"
	}
	return "symmetric"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "symmetric":
		return Symmetric, nil
	case "asymmetric":
		return Asymmetric, nil
	}
	return Symmetric, fmt.Errorf("quant: unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type Granularity uint8

const (
	PerTensor Granularity = iota
	PerChannel
)

func (g Granularity) String() string {
	if g == PerChannel {
		return "perchannel"
	}
	return "pertensor"
}

// ParseGranularity accepts both "perchannel" and "per-channel" spellings.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ReplaceAll(s, "-", "") {
	case "pertensor":
		return PerTensor, nil
	case "perchannel":
		return PerChannel, nil
	}
	return PerTensor, fmt.Errorf("quant: unknown granularity %q", s)
}

func (g Granularity) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *Granularity) UnmarshalText(b []byte) error {
	v, err := ParseGranularity(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// Candidate is one legal quantization configuration.
type Candidate struct {
	Bits        int         `json:"bits" yaml:"bits"`
	Mode        Mode        `json:"mode" yaml:"mode"`
	Granularity Granularity `json:"granularity" yaml:"granularity"`
	LevelLow    int64       `json:"level_low" yaml:"level_low"`
	LevelHigh   int64       `json:"level_high" yaml:"level_high"`
}

// Key is the part of a candidate two lists must agree on to match.
type Key struct {
	Mode        Mode
	Granularity Granularity
}

func (c Candidate) Key() Key { return Key{Mode: c.Mode, Granularity: c.Granularity} }

func (c Candidate) String() string {
	return fmt.Sprintf("%d-bit %s %s [%d,%d]", c.Bits, c.Mode, c.Granularity, c.LevelLow, c.LevelHigh)
}

// DefaultLevels returns the integer range of a bits-wide grid: signed for
// symmetric mode, unsigned for asymmetric.
func DefaultLevels(bits int, mode Mode) (low, high int64) {
	if bits <= 0 || bits > 62 {
		return 0, 0
	}
	if mode == Asymmetric {
		return 0, int64(1)<<bits - 1
	}
	half := int64(1) << (bits - 1)
	return -half, half - 1
}

// WithDefaultLevels fills LevelLow and LevelHigh when both are unset.
func (c Candidate) WithDefaultLevels() Candidate {
	if c.LevelLow == 0 && c.LevelHigh == 0 {
		c.LevelLow, c.LevelHigh = DefaultLevels(c.Bits, c.Mode)
	}
	return c
}

// cheaper reports whether a should be preferred over b when both share a
// key. Fewer bits wins; ties fall back to the levels so the choice does not
// depend on argument order.
func cheaper(a, b Candidate) bool {
	if a.Bits != b.Bits {
		return a.Bits < b.Bits
	}
	if a.LevelLow != b.LevelLow {
		return a.LevelLow < b.LevelLow
	}
	return a.LevelHigh <= b.LevelHigh
}

// Constraint is a partial candidate. Unset fields match anything.
type Constraint struct {
	Bits        *int
	Mode        *Mode
	Granularity *Granularity
	LevelLow    *int64
	LevelHigh   *int64
}

func (c Constraint) IsZero() bool {
	return c.Bits == nil && c.Mode == nil && c.Granularity == nil && c.LevelLow == nil && c.LevelHigh == nil
}

// Matches reports whether every set field of c equals the field of cand.
func (c Constraint) Matches(cand Candidate) bool {
	if c.Bits != nil && *c.Bits != cand.Bits {
		return false
	}
	if c.Mode != nil && *c.Mode != cand.Mode {
		return false
	}
	if c.Granularity != nil && *c.Granularity != cand.Granularity {
		return false
	}
	if c.LevelLow != nil && *c.LevelLow != cand.LevelLow {
		return false
	}
	if c.LevelHigh != nil && *c.LevelHigh != cand.LevelHigh {
		return false
	}
	return true
}

// Candidate turns the constraint into a concrete candidate, defaulting unset
// fields to an 8-bit symmetric per-tensor grid.
func (c Constraint) Candidate() Candidate {
	out := Candidate{Bits: 8, Mode: Symmetric, Granularity: PerTensor}
	if c.Bits != nil {
		out.Bits = *c.Bits
	}
	if c.Mode != nil {
		out.Mode = *c.Mode
	}
	if c.Granularity != nil {
		out.Granularity = *c.Granularity
	}
	out.LevelLow, out.LevelHigh = DefaultLevels(out.Bits, out.Mode)
	if c.LevelLow != nil {
		out.LevelLow = *c.LevelLow
	}
	if c.LevelHigh != nil {
		out.LevelHigh = *c.LevelHigh
	}
	return out
}

// Filter returns the candidates of list that satisfy c, in order.
func (c Constraint) Filter(list []Candidate) []Candidate {
	return lo.Filter(list, func(cand Candidate, _ int) bool { return c.Matches(cand) })
}
