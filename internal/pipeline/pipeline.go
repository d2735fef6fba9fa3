// Package pipeline runs a complete resolution: candidate lists per
// quantization point, unification groups, the preset pick, and the
// statistics the calibration driver must collect.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/hwconfig"
	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/metrics"
	"github.com/samcharles93/quantcfg/internal/preset"
	"github.com/samcharles93/quantcfg/internal/quant"
	"github.com/samcharles93/quantcfg/internal/statistics"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
	"github.com/samcharles93/quantcfg/internal/unify"
)

var ErrMissingInput = errors.New("pipeline: missing input")

type Options struct {
	Graph   *graph.Graph
	Catalog *hwconfig.Catalog
	Config  toolconfig.Config

	// Preset overrides the preset of Config when set.
	Preset toolconfig.Preset

	// SkipStatistics stops after resolution and leaves the graph untouched.
	SkipStatistics bool
	// IncludeGraph adds the rewritten graph to the report.
	IncludeGraph bool

	// Logger defaults to the logger carried by the context.
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Statistics is what the calibration driver needs after injection.
type Statistics struct {
	Layout       statistics.Layout `json:"layout"`
	Nodes        []string          `json:"nodes"`
	OutputToNode map[string]string `json:"output_to_node"`
}

// Report is the outcome of one run. Map keys are node full names, so the
// encoded form is stable for identical inputs apart from the run id.
type Report struct {
	RunID          string                     `json:"run_id"`
	TargetDevice   string                     `json:"target_device,omitempty"`
	Preset         toolconfig.Preset          `json:"preset"`
	Configurations map[string]preset.Resolved `json:"configurations"`
	Groups         []unify.Group              `json:"groups"`
	Statistics     *Statistics                `json:"statistics,omitempty"`
	Graph          *graph.Document            `json:"graph,omitempty"`
}

func (r *Report) Encode(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Run resolves opts.Graph against the catalog. The graph is modified in
// place when statistics are injected.
func Run(ctx context.Context, opts Options) (report *Report, err error) {
	if opts.Graph == nil || opts.Catalog == nil {
		return nil, fmt.Errorf("%w: graph and hardware descriptor are required", ErrMissingInput)
	}
	log := opts.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	runID := uuid.NewString()
	log = log.With(logger.KeyRun, runID)

	start := time.Now()
	if opts.Metrics != nil {
		defer func() { opts.Metrics.RunFinished(time.Since(start), err) }()
	}

	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	p := opts.Preset
	if p == "" {
		p = opts.Config.PresetOrDefault()
	}
	if _, err := toolconfig.ParsePreset(string(p)); err != nil {
		return nil, err
	}
	if err := opts.Graph.Validate(); err != nil {
		return nil, err
	}
	log.Info("resolution started",
		"graph", opts.Graph.Name(),
		"target_device", opts.Catalog.TargetDevice,
		"operations", len(opts.Catalog.Operations()),
		"preset", string(p))

	confs, err := preset.ReadAllConfigurations(opts.Graph, opts.Catalog, opts.Config, log)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups, err := unify.FindFQsToUnify(opts.Graph, opts.Catalog, log)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := preset.Resolve(p, opts.Graph, confs, groups, opts.Config, log)
	if err != nil {
		return nil, err
	}

	report = &Report{
		RunID:          runID,
		TargetDevice:   opts.Catalog.TargetDevice,
		Preset:         p,
		Configurations: resolved,
		Groups:         groups,
	}
	if report.Groups == nil {
		report.Groups = []unify.Group{}
	}
	if opts.Metrics != nil {
		counts := lo.CountValuesBy(lo.Values(resolved), func(r preset.Resolved) quant.Kind { return r.Kind })
		for kind, n := range counts {
			opts.Metrics.PointsResolved(kind.String(), n)
		}
		opts.Metrics.GroupsFound(len(groups))
	}

	if !opts.SkipStatistics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats, err := injectStatistics(opts, resolved, log)
		if err != nil {
			return nil, err
		}
		report.Statistics = stats
	}
	if opts.IncludeGraph {
		doc := opts.Graph.Document()
		report.Graph = &doc
	}

	log.Info("resolution finished",
		"points", len(resolved),
		"groups", len(groups),
		"elapsed", time.Since(start).String())
	return report, nil
}

func injectStatistics(opts Options, resolved map[string]preset.Resolved, log logger.Logger) (*Statistics, error) {
	layout, aliases, err := statistics.RequestsFor(opts.Graph, resolved, opts.Config.Inplace())
	if err != nil {
		return nil, err
	}
	res, err := statistics.Insert(opts.Graph, layout, aliases, log)
	if err != nil {
		return nil, err
	}
	if opts.Metrics != nil {
		var reduced, raw int
		for _, stats := range layout {
			for _, s := range stats {
				if s.Inplace {
					reduced++
				} else {
					raw++
				}
			}
		}
		opts.Metrics.StatisticsPlaced(reduced, raw)
	}
	if res.Nodes == nil {
		res.Nodes = []string{}
	}
	return &Statistics{Layout: layout, Nodes: res.Nodes, OutputToNode: res.OutputToNode}, nil
}
