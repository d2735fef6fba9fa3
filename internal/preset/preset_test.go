package preset

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/graph/graphtest"
	"github.com/samcharles93/quantcfg/internal/hwconfig"
	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/quant"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
	"github.com/samcharles93/quantcfg/internal/unify"
)

const descriptor = `{
  "target_device": "CPU",
  "version": "1.0",
  "config": {
    "quantization": {
      "q4_tn": {"bits": 4, "mode": "symmetric", "granularity": "pertensor"},
      "q8_tn": {"bits": 8, "mode": "symmetric", "granularity": "pertensor"},
      "q8_ch": {"bits": 8, "mode": "symmetric", "granularity": "perchannel"},
      "q8_an": {"bits": 8, "mode": "asymmetric", "granularity": "pertensor"}
    }
  },
  "operations": [
    {"type": "Convolution", "attributes": {"scales": "unified"},
     "quantization": {"activations": ["q8_tn", "q8_an"], "weights": ["q4_tn", "q8_ch"]}},
    {"type": "Concat"},
    {"type": "Reshape"}
  ]
}`

var (
	q4tn = quant.Candidate{Bits: 4, Mode: quant.Symmetric, Granularity: quant.PerTensor, LevelLow: -8, LevelHigh: 7}
	q8tn = quant.Candidate{Bits: 8, Mode: quant.Symmetric, Granularity: quant.PerTensor, LevelLow: -128, LevelHigh: 127}
	q8ch = quant.Candidate{Bits: 8, Mode: quant.Symmetric, Granularity: quant.PerChannel, LevelLow: -128, LevelHigh: 127}
	q8an = quant.Candidate{Bits: 8, Mode: quant.Asymmetric, Granularity: quant.PerTensor, LevelLow: 0, LevelHigh: 255}
)

func catalog(t *testing.T) *hwconfig.Catalog {
	t.Helper()
	c, err := hwconfig.Parse([]byte(descriptor))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func toolConfig(t *testing.T, doc string) toolconfig.Config {
	t.Helper()
	cfg, err := toolconfig.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("tool config: %v", err)
	}
	return cfg
}

func singleConv(t *testing.T) *graphtest.Builder {
	b := graphtest.New(t, "model")
	b.Op("in", graph.OpParameter, 1, 3, 8, 8).
		FQ("fq_in", "in").
		Op("conv", graph.OpConvolution, 1, 16, 8, 8).
		Connect("fq_in", "conv").
		Weights("fq_w", 16, 3, 3, 3).
		Connect("fq_w", "conv").
		Op("out", graph.OpResult).
		Connect("conv", "out")
	return b
}

func resolveAll(t *testing.T, g *graph.Graph, cfg toolconfig.Config) map[string]Resolved {
	t.Helper()
	return resolveWith(t, catalog(t), g, cfg)
}

func resolveWith(t *testing.T, cat *hwconfig.Catalog, g *graph.Graph, cfg toolconfig.Config) map[string]Resolved {
	t.Helper()
	confs, err := ReadAllConfigurations(g, cat, cfg, logger.Discard())
	if err != nil {
		t.Fatalf("read configurations: %v", err)
	}
	groups, err := unify.FindFQsToUnify(g, cat, logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	res, err := Resolve(cfg.PresetOrDefault(), g, confs, groups, cfg, logger.Discard())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return res
}

func TestWeightsConstrainedToEightBits(t *testing.T) {
	t.Parallel()

	b := singleConv(t)
	cfg := toolConfig(t, "preset: performance\nweights: {bits: 8}\n")
	res := resolveAll(t, b.G, cfg)

	w := res["fq_w"]
	if w.Kind != quant.Weights {
		t.Fatalf("fq_w kind got %v", w.Kind)
	}
	if diff := cmp.Diff(q8ch, w.Candidate); diff != "" {
		t.Fatalf("weights candidate mismatch (-want +got):\n%s", diff)
	}
	if a := res["fq_in"]; a.Kind != quant.Activations || a.Candidate != q8tn {
		t.Fatalf("activations got %+v", a)
	}
}

func TestPresetRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		preset      string
		weights     quant.Candidate
		activations quant.Candidate
	}{
		{"performance", q4tn, q8tn},
		{"mixed", q4tn, q8an},
		{"accuracy", q8ch, q8an},
	}
	for _, tc := range cases {
		t.Run(tc.preset, func(t *testing.T) {
			t.Parallel()
			b := singleConv(t)
			res := resolveAll(t, b.G, toolConfig(t, "preset: "+tc.preset))
			if got := res["fq_w"].Candidate; got != tc.weights {
				t.Fatalf("weights got %v want %v", got, tc.weights)
			}
			if got := res["fq_in"].Candidate; got != tc.activations {
				t.Fatalf("activations got %v want %v", got, tc.activations)
			}
		})
	}
}

func concatGroup(t *testing.T) *graphtest.Builder {
	b := graphtest.New(t, "model")
	b.Op("in_a", graph.OpParameter, 1, 3, 8, 8).
		Op("in_b", graph.OpParameter, 1, 3, 8, 8).
		FQ("fq_a", "in_a").
		FQ("fq_b", "in_b").
		Op("concat", graph.OpConcat, 1, 6, 8, 8).
		Connect("fq_a", "concat").
		Connect("fq_b", "concat").
		Op("conv", graph.OpConvolution, 1, 16, 8, 8).
		Connect("concat", "conv").
		Weights("fq_w", 16, 6, 3, 3).
		Connect("fq_w", "conv").
		Op("out", graph.OpResult).
		Connect("conv", "out")
	return b
}

func TestUnifiedGroupSharesCandidate(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"performance", "accuracy"} {
		b := concatGroup(t)
		res := resolveAll(t, b.G, toolConfig(t, "preset: "+p))
		a, bb := res["fq_a"], res["fq_b"]
		if a.Group == "" || a.Group != bb.Group {
			t.Fatalf("%s: points not resolved as one group: %q %q", p, a.Group, bb.Group)
		}
		if a.Candidate != bb.Candidate {
			t.Fatalf("%s: group members differ: %v vs %v", p, a.Candidate, bb.Candidate)
		}
		if a.Candidate.Granularity != quant.PerTensor {
			t.Fatalf("%s: concatenation groups are per-tensor, got %v", p, a.Candidate)
		}
	}
}

const eltwiseDescriptor = `[
  {"type": "Add", "attributes": {"scales": "unified"},
   "quantization": {"activations": [
     {"bits": 8, "mode": "symmetric", "granularity": "pertensor"},
     {"bits": 8, "mode": "symmetric", "granularity": "perchannel"}]}}
]`

func TestEltwiseGroupLayout(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		shapeB []int64
		want   quant.Candidate
	}{
		{"matching layouts keep per-channel", []int64{1, 3, 8, 8}, q8ch},
		{"broadcast input is per-tensor", []int64{1, 1, 1, 1}, q8tn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cat, err := hwconfig.Parse([]byte(eltwiseDescriptor))
			if err != nil {
				t.Fatalf("catalog: %v", err)
			}
			b := graphtest.New(t, "model")
			b.Op("in_a", graph.OpParameter, 1, 3, 8, 8).
				Op("in_b", graph.OpParameter, tc.shapeB...).
				FQ("fq_a", "in_a").
				FQ("fq_b", "in_b").
				Op("add", graph.OpAdd, 1, 3, 8, 8).
				Connect("fq_a", "add").
				Connect("fq_b", "add").
				Op("out", graph.OpResult).
				Connect("add", "out")

			res := resolveWith(t, cat, b.G, toolConfig(t, "preset: accuracy"))
			for _, fq := range []string{"fq_a", "fq_b"} {
				r := res[fq]
				if r.Group != "add" {
					t.Fatalf("%s group got %q want %q", fq, r.Group, "add")
				}
				if diff := cmp.Diff(tc.want, r.Candidate); diff != "" {
					t.Fatalf("%s candidate mismatch (-want +got):\n%s", fq, diff)
				}
			}
		})
	}
}

func TestUnrecognizedConsumerTypes(t *testing.T) {
	t.Parallel()

	cat, err := hwconfig.Parse([]byte(`[
	  {"type": "Convolution", "quantization": {"activations": {"bits": 8, "mode": "symmetric", "granularity": "pertensor"}}},
	  {"type": "Maximum", "quantization": {"activations": {"bits": 8, "mode": "asymmetric", "granularity": "pertensor"}}}
	]`))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	b := graphtest.New(t, "model")
	b.Op("in", graph.OpParameter, 1, 3, 8, 8).
		FQ("fq_in", "in").
		Opaque("max", "Maximum", 1, 3, 8, 8).
		Connect("fq_in", "max").
		Opaque("gather", "Gather", 1, 3, 8, 8).
		Connect("fq_in", "gather")

	confs, err := ReadAllConfigurations(b.G, cat, toolconfig.Config{}, logger.Discard())
	if err != nil {
		t.Fatalf("read configurations: %v", err)
	}
	want := []Contribution{{Layer: "max", Candidates: []quant.Candidate{q8an}}}
	if diff := cmp.Diff(want, confs["fq_in"].ByLayer); diff != "" {
		t.Fatalf("contributions mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigMismatchFallsBack(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.JSON(&buf, slog.LevelWarn)
	b := singleConv(t)
	cfg := toolConfig(t, "activations: {bits: 6}\n")

	confs, err := ReadAllConfigurations(b.G, catalog(t), cfg, log)
	if err != nil {
		t.Fatalf("read configurations: %v", err)
	}
	want := []Contribution{{Layer: "conv", Candidates: []quant.Candidate{
		{Bits: 6, Mode: quant.Symmetric, Granularity: quant.PerTensor, LevelLow: -32, LevelHigh: 31},
	}}}
	if diff := cmp.Diff(want, confs["fq_in"].ByLayer); diff != "" {
		t.Fatalf("fallback mismatch (-want +got):\n%s", diff)
	}
	out := buf.String()
	if !strings.Contains(out, `"error_kind":"config_mismatch"`) || !strings.Contains(out, `"node":"fq_in"`) {
		t.Fatalf("expected a mismatch warning, got %s", out)
	}
}

func TestDescendantsThroughAgnosticOps(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	b.Op("in", graph.OpParameter, 1, 3, 8, 8).
		FQ("fq_in", "in").
		Op("reshape", graph.OpReshape, 1, 3, 8, 8).
		Connect("fq_in", "reshape").
		Op("conv", graph.OpConvolution, 1, 16, 8, 8).
		Connect("reshape", "conv").
		Op("relu", graph.OpRelu, 1, 3, 8, 8).
		Connect("reshape", "relu")

	confs, err := ReadAllConfigurations(b.G, catalog(t), toolconfig.Config{}, logger.Discard())
	if err != nil {
		t.Fatalf("read configurations: %v", err)
	}
	pc := confs["fq_in"]
	if diff := cmp.Diff([]string{"conv"}, pc.Layers()); diff != "" {
		t.Fatalf("layers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]quant.Candidate{q8tn, q8an}, pc.ByLayer[0].Candidates); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyConfigurationNamesNode(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	b.Op("in", graph.OpParameter, 1, 8).
		FQ("fq_out", "in").
		Op("out", graph.OpResult).
		Connect("fq_out", "out")

	cat := catalog(t)
	confs, err := ReadAllConfigurations(b.G, cat, toolconfig.Config{}, logger.Discard())
	if err != nil {
		t.Fatalf("read configurations: %v", err)
	}
	_, err = Resolve(toolconfig.Performance, b.G, confs, nil, toolconfig.Config{}, logger.Discard())
	var re *ResolutionError
	if !errors.As(err, &re) || !errors.Is(err, ErrEmptyConfiguration) {
		t.Fatalf("expected empty configuration error, got %v", err)
	}
	if diff := cmp.Diff([]string{"fq_out"}, re.Nodes); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupCannotUnify(t *testing.T) {
	t.Parallel()

	b := concatGroup(t)
	confs := Configurations{
		"fq_a": {Kind: quant.Activations, ByLayer: []Contribution{{Layer: "conv", Candidates: []quant.Candidate{q8ch}}}},
		"fq_b": {Kind: quant.Activations, ByLayer: []Contribution{{Layer: "conv", Candidates: []quant.Candidate{q8tn}}}},
	}
	groups := []unify.Group{{Bridges: []string{"concat", "conv"}, FQs: []string{"fq_a", "fq_b"}}}

	_, err := Resolve(toolconfig.Mixed, b.G, confs, groups, toolconfig.Config{}, logger.Discard())
	var re *ResolutionError
	if !errors.As(err, &re) || !errors.Is(err, ErrCannotUnify) {
		t.Fatalf("expected cannot unify error, got %v", err)
	}
	if re.Group != "concat,conv" || !strings.Contains(err.Error(), "fq_a, fq_b") {
		t.Fatalf("error does not name the group: %v", err)
	}
}

func TestUnsupportedPreset(t *testing.T) {
	t.Parallel()

	_, err := Resolve(toolconfig.Preset("fastest"), graph.New("m"), nil, nil, toolconfig.Config{}, logger.Discard())
	if !errors.Is(err, toolconfig.ErrUnsupportedPreset) {
		t.Fatalf("expected unsupported preset, got %v", err)
	}
}

func TestMismatchedLayout(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		shapes []graph.Shape
		want   bool
	}{
		{"none", nil, false},
		{"same", []graph.Shape{{1, 3, 8, 8}, {1, 3, 4, 4}}, false},
		{"batch", []graph.Shape{{1, 3}, {2, 3}}, true},
		{"channel", []graph.Shape{{1, 3, 8}, {1, 4, 8}}, true},
		{"rank one", []graph.Shape{{3}, {3}}, true},
	}
	for _, tc := range cases {
		if got := mismatchedLayout(tc.shapes); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestRangeEstimatorFor(t *testing.T) {
	t.Parallel()

	def := RangeEstimatorFor(toolconfig.Config{}, quant.Activations, quant.PerTensor, quant.Symmetric)
	if diff := cmp.Diff(RangeEstimator{Max: &Estimator{Type: "max", Aggregator: "mean"}}, def); diff != "" {
		t.Fatalf("default mismatch (-want +got):\n%s", diff)
	}

	cfg := toolConfig(t, `
activations:
  range_estimator:
    preset: quantile
    max: {outlier_prob: 0.01}
    min: {type: min, aggregator: median}
`)
	got := RangeEstimatorFor(cfg, quant.Activations, quant.PerTensor, quant.Asymmetric)
	want := RangeEstimator{
		Min: &Estimator{Type: "min", Aggregator: "median", OutlierProb: defaultOutlierProb},
		Max: &Estimator{Type: "quantile", Aggregator: "mean", OutlierProb: 0.01},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("override mismatch (-want +got):\n%s", diff)
	}

	again := RangeEstimatorFor(cfg, quant.Activations, quant.PerTensor, quant.Asymmetric)
	if again.Max.OutlierProb != 0.01 || estimatorPresets[estimatorKey{"quantile", quant.Activations, quant.PerTensor, quant.Asymmetric}].Max.OutlierProb != defaultOutlierProb {
		t.Fatalf("overrides must not leak into the preset table")
	}

	w := RangeEstimatorFor(cfg, quant.Weights, quant.PerChannel, quant.Symmetric)
	if w.Min != nil || w.Max == nil || w.Max.Type != "abs_max" {
		t.Fatalf("weights default got %+v", w)
	}
}
