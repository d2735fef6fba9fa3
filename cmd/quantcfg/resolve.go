package main

import (
	"context"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/metrics"
	"github.com/samcharles93/quantcfg/internal/pipeline"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
)

func resolveCmd() *cli.Command {
	var (
		presetName      string
		outputPath      string
		graphOutPath    string
		metricsTextfile string
		noStatistics    bool
		includeGraph    bool
	)

	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve one configuration per quantization point and place calibration statistics",
		Flags: append(inputFlags(),
			&cli.StringFlag{
				Name:        "preset",
				Aliases:     []string{"p"},
				Usage:       "preset policy (performance, mixed, accuracy); overrides the tool configuration",
				Destination: &presetName,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write the report to this file instead of stdout",
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "graph-out",
				Usage:       "write the graph with statistic reductions to this file",
				Destination: &graphOutPath,
			},
			&cli.StringFlag{
				Name:        "metrics-textfile",
				Usage:       "write run metrics in the Prometheus textfile format",
				Destination: &metricsTextfile,
			},
			&cli.BoolFlag{
				Name:        "no-statistics",
				Usage:       "stop after resolution and leave the graph untouched",
				Destination: &noStatistics,
			},
			&cli.BoolFlag{
				Name:        "include-graph",
				Usage:       "embed the rewritten graph in the report",
				Destination: &includeGraph,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyResolveConfig(cmd, LoadConfig(), &presetName, &noStatistics, &metricsTextfile)
			log := logger.FromContext(ctx)

			in, err := loadInputs()
			if err != nil {
				return err
			}
			opts := pipeline.Options{
				Graph:          in.graph,
				Catalog:        in.catalog,
				Config:         in.config,
				SkipStatistics: noStatistics,
				IncludeGraph:   includeGraph,
				Logger:         log,
			}
			if presetName != "" {
				p, err := toolconfig.ParsePreset(presetName)
				if err != nil {
					return err
				}
				opts.Preset = p
			}
			if metricsTextfile != "" {
				opts.Metrics = metrics.New()
			}

			report, runErr := pipeline.Run(ctx, opts)
			if opts.Metrics != nil {
				if err := opts.Metrics.WriteTextfile(metricsTextfile); err != nil {
					log.Warn("metrics textfile not written", "error", err)
				}
			}
			if runErr != nil {
				return runErr
			}

			out, err := resolveOutputPath(outputPath)
			if err != nil {
				return err
			}
			if err := writeOutput(out, report.Encode); err != nil {
				return err
			}
			if graphOutPath != "" && !noStatistics {
				gout, err := resolveOutputPath(graphOutPath)
				if err != nil {
					return err
				}
				if err := writeOutput(gout, func(w io.Writer) error { return in.graph.Encode(w) }); err != nil {
					return err
				}
				log.Info("wrote graph", "path", gout)
			}
			return nil
		},
	}
}
