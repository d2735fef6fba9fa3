package hwconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/quant"
)

const cpuDescriptor = `{
  "target_device": "CPU",
  "version": "2.0",
  "config": {
    "quantization": {
      "q8_tn": {"bits": 8, "mode": "symmetric", "granularity": "pertensor"},
      "q8_ch": {"bits": 8, "mode": "symmetric", "granularity": "perchannel"},
      "q8_an": {"bits": 8, "mode": "asymmetric", "granularity": "pertensor"}
    }
  },
  "operations": [
    {"type": "Convolution", "quantization": {"activations": "q8_tn", "weights": ["q8_tn", "q8_ch"]}},
    {"type": "MatMul", "quantization": {"activations": ["q8_tn", "q8_an"], "weights": {"bits": 4, "mode": "symmetric", "granularity": "pertensor"}}},
    {"type": "Add", "attributes": {"scales": "unified"}, "quantization": {"activations": "q8_an"}},
    {"type": "Concat", "attributes": {"scales": "unified", "align": "inputs"}},
    {"type": "MaxPool"},
    {"type": "Reshape"}
  ]
}`

func TestParseDocument(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(cpuDescriptor))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.TargetDevice != "CPU" {
		t.Fatalf("target device got %q", c.TargetDevice)
	}
	if c.Version == nil || c.Version.Major() != 2 {
		t.Fatalf("version got %v", c.Version)
	}

	w, ok := c.Configs("Convolution", quant.Weights)
	if !ok {
		t.Fatalf("expected Convolution weights")
	}
	want := []quant.Candidate{
		{Bits: 8, Mode: quant.Symmetric, Granularity: quant.PerTensor, LevelLow: -128, LevelHigh: 127},
		{Bits: 8, Mode: quant.Symmetric, Granularity: quant.PerChannel, LevelLow: -128, LevelHigh: 127},
	}
	if diff := cmp.Diff(want, w); diff != "" {
		t.Fatalf("weights mismatch (-want +got):\n%s", diff)
	}

	mw, _ := c.Configs("MatMul", quant.Weights)
	if len(mw) != 1 || mw[0].Bits != 4 || mw[0].LevelLow != -8 {
		t.Fatalf("inline candidate not decoded: %v", mw)
	}
	ma, _ := c.Configs("MatMul", quant.Activations)
	if len(ma) != 2 || ma[1].Mode != quant.Asymmetric || ma[1].LevelHigh != 255 {
		t.Fatalf("named list not decoded: %v", ma)
	}

	if _, ok := c.Configs("Add", quant.Weights); ok {
		t.Fatalf("Add does not quantize weights")
	}
	if _, ok := c.Configs("Relu", quant.Activations); ok {
		t.Fatalf("Relu is not listed")
	}
}

func TestUnifiedScaleMarkerIsStripped(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(cpuDescriptor))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.IsUnifiedScale("Add") || !c.IsUnifiedScale("Concat") {
		t.Fatalf("expected Add and Concat to be unified-scale")
	}
	if c.IsUnifiedScale("Convolution") {
		t.Fatalf("Convolution is not unified-scale")
	}
	if diff := cmp.Diff([]string{"Add", "Concat"}, c.UnifiedScaleOps()); diff != "" {
		t.Fatalf("unified ops mismatch (-want +got):\n%s", diff)
	}

	add, _ := c.Descriptor("Add")
	if add.Attributes != nil {
		t.Fatalf("scales marker should leave no attributes, got %v", add.Attributes)
	}
	concat, _ := c.Descriptor("Concat")
	if _, ok := concat.Attributes["scales"]; ok {
		t.Fatalf("scales marker not stripped: %v", concat.Attributes)
	}
	if concat.Attributes["align"] != "inputs" {
		t.Fatalf("other attributes should survive: %v", concat.Attributes)
	}
}

func TestQuantizeAgnostic(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(cpuDescriptor))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.IsQuantizeAgnostic("MaxPool") || !c.IsQuantizeAgnostic("Concat") {
		t.Fatalf("listed agnostic ops should be agnostic")
	}
	if c.IsQuantizeAgnostic("Transpose") {
		t.Fatalf("unlisted ops are not agnostic")
	}
	if c.IsQuantizeAgnostic("Convolution") {
		t.Fatalf("Convolution is never agnostic")
	}
}

func TestUnrecognizedOperationTypes(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`[
	  {"type": "Convolution", "quantization": {"activations": {"bits": 8, "mode": "symmetric", "granularity": "pertensor"}}},
	  {"type": "Maximum", "attributes": {"scales": "unified"},
	   "quantization": {"activations": {"bits": 8, "mode": "asymmetric", "granularity": "pertensor"}}},
	  {"type": "NormalizeL2"}
	]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d, ok := c.Descriptor("Maximum")
	if !ok || d.Kind != graph.OpOpaque {
		t.Fatalf("Maximum got %+v, %v", d, ok)
	}
	a, ok := c.Configs("Maximum", quant.Activations)
	if !ok || len(a) != 1 || a[0].Mode != quant.Asymmetric {
		t.Fatalf("Maximum activations got %v, %v", a, ok)
	}
	if !c.IsUnifiedScale("Maximum") {
		t.Fatalf("unified marker must apply to unrecognized types")
	}
	if !c.Has("NormalizeL2") || c.IsQuantizeAgnostic("NormalizeL2") {
		t.Fatalf("listed unrecognized types are never agnostic")
	}
	if c.Has("Opaque") {
		t.Fatalf("lookup must use the descriptor type name")
	}
}

func TestParseBareList(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`[
	  {"type": "Convolution", "quantization": {
	    "weights": [{"bits": 4, "mode": "symmetric", "granularity": "pertensor"},
	                {"bits": 8, "mode": "symmetric", "granularity": "perchannel"}],
	    "activations": [{"bits": 8, "mode": "asymmetric", "granularity": "pertensor", "level_low": 0, "level_high": 254}]}}
	]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a, _ := c.Configs("Convolution", quant.Activations)
	if len(a) != 1 || a[0].LevelHigh != 254 {
		t.Fatalf("explicit levels not kept: %v", a)
	}
	if len(c.Operations()) != 1 {
		t.Fatalf("expected one operation")
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `{`, ErrMalformed},
		{"unknown field", `{"operations": [], "extra": 1}`, ErrMalformed},
		{"missing type", `[{"quantization": {}}]`, ErrMalformed},
		{"duplicate type", `[{"type": "Add"}, {"type": "Add"}]`, ErrMalformed},
		{"unknown named config", `[{"type": "Add", "quantization": {"activations": "q2"}}]`, ErrMalformed},
		{"empty list", `[{"type": "Add", "quantization": {"activations": []}}]`, ErrMalformed},
		{"bad kind", `[{"type": "Add", "quantization": {"biases": {"bits": 8, "mode": "symmetric", "granularity": "pertensor"}}}]`, ErrMalformed},
		{"bad mode", `[{"type": "Add", "quantization": {"activations": {"bits": 8, "mode": "linear", "granularity": "pertensor"}}}]`, ErrMalformed},
		{"missing bits", `[{"type": "Add", "quantization": {"activations": {"mode": "symmetric", "granularity": "pertensor"}}}]`, ErrMalformed},
		{"bad version", `{"version": "one", "operations": []}`, ErrMalformed},
		{"future version", `{"version": "3.1", "operations": []}`, ErrUnsupportedVersion},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.in))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cpu.json")
	if err := os.WriteFile(path, []byte(cpuDescriptor), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Has("Reshape") {
		t.Fatalf("expected Reshape to be listed")
	}

	if _, err := Load(strings.NewReader(cpuDescriptor)); err != nil {
		t.Fatalf("load reader: %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
