package preset

import (
	"github.com/samcharles93/quantcfg/internal/quant"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
)

// Estimator describes how one end of a range is measured: the statistic
// computed per calibration batch and how batches are aggregated.
type Estimator struct {
	Type        string  `json:"type"`
	Aggregator  string  `json:"aggregator,omitempty"`
	OutlierProb float64 `json:"outlier_prob,omitempty"`
}

// RangeEstimator is the range estimation attached to a resolved candidate.
// Symmetric grids only need the upper end.
type RangeEstimator struct {
	Min *Estimator `json:"min,omitempty"`
	Max *Estimator `json:"max,omitempty"`
}

const defaultOutlierProb = 1e-4

type estimatorKey struct {
	preset      string
	kind        quant.Kind
	granularity quant.Granularity
	mode        quant.Mode
}

var estimatorPresets = func() map[estimatorKey]RangeEstimator {
	m := make(map[estimatorKey]RangeEstimator)
	set := func(preset string, kind quant.Kind, g quant.Granularity, sym, asym RangeEstimator) {
		m[estimatorKey{preset, kind, g, quant.Symmetric}] = sym
		m[estimatorKey{preset, kind, g, quant.Asymmetric}] = asym
	}
	for _, g := range []quant.Granularity{quant.PerTensor, quant.PerChannel} {
		set("default", quant.Weights, g,
			RangeEstimator{Max: &Estimator{Type: "abs_max"}},
			RangeEstimator{Min: &Estimator{Type: "min"}, Max: &Estimator{Type: "max"}})
		set("quantile", quant.Weights, g,
			RangeEstimator{Max: &Estimator{Type: "abs_quantile", OutlierProb: defaultOutlierProb}},
			RangeEstimator{
				Min: &Estimator{Type: "quantile", OutlierProb: defaultOutlierProb},
				Max: &Estimator{Type: "quantile", OutlierProb: defaultOutlierProb},
			})
	}

	set("default", quant.Activations, quant.PerTensor,
		RangeEstimator{Max: &Estimator{Type: "max", Aggregator: "mean"}},
		RangeEstimator{Min: &Estimator{Type: "min", Aggregator: "mean"}, Max: &Estimator{Type: "max", Aggregator: "mean"}})
	set("default", quant.Activations, quant.PerChannel,
		RangeEstimator{Max: &Estimator{Type: "abs_max", Aggregator: "mean"}},
		RangeEstimator{Min: &Estimator{Type: "min", Aggregator: "mean"}, Max: &Estimator{Type: "max", Aggregator: "mean"}})
	set("quantile", quant.Activations, quant.PerTensor,
		RangeEstimator{Max: &Estimator{Type: "quantile", Aggregator: "mean", OutlierProb: defaultOutlierProb}},
		RangeEstimator{
			Min: &Estimator{Type: "quantile", Aggregator: "mean", OutlierProb: defaultOutlierProb},
			Max: &Estimator{Type: "quantile", Aggregator: "mean", OutlierProb: defaultOutlierProb},
		})
	set("quantile", quant.Activations, quant.PerChannel,
		RangeEstimator{Max: &Estimator{Type: "abs_quantile", Aggregator: "mean", OutlierProb: defaultOutlierProb}},
		RangeEstimator{
			Min: &Estimator{Type: "quantile", Aggregator: "mean", OutlierProb: defaultOutlierProb},
			Max: &Estimator{Type: "quantile", Aggregator: "mean", OutlierProb: defaultOutlierProb},
		})
	return m
}()

// RangeEstimatorFor returns the range estimation for a candidate of the
// given kind, starting from the configured estimator preset and applying
// the per-end overrides of the tool configuration.
func RangeEstimatorFor(cfg toolconfig.Config, kind quant.Kind, g quant.Granularity, mode quant.Mode) RangeEstimator {
	override := cfg.RangeEstimatorFor(kind)
	name := "default"
	if override != nil && override.Preset != "" {
		name = override.Preset
	}
	base := estimatorPresets[estimatorKey{name, kind, g, mode}]
	out := RangeEstimator{Min: cloneEstimator(base.Min), Max: cloneEstimator(base.Max)}
	if override == nil {
		return out
	}
	out.Min = applyOverride(out.Min, override.Min)
	out.Max = applyOverride(out.Max, override.Max)
	return out
}

func cloneEstimator(e *Estimator) *Estimator {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func applyOverride(e *Estimator, o *toolconfig.StatSpec) *Estimator {
	if o == nil {
		return e
	}
	if e == nil {
		e = &Estimator{}
	}
	if o.Type != "" {
		e.Type = o.Type
	}
	if o.Aggregator != "" {
		e.Aggregator = o.Aggregator
	}
	if o.OutlierProb != nil {
		e.OutlierProb = *o.OutlierProb
	}
	return e
}
