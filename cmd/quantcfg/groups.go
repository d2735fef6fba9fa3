package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/unify"
)

func groupsCmd() *cli.Command {
	var outputPath string

	return &cli.Command{
		Name:  "groups",
		Usage: "List the quantization points that must share one activation configuration",
		Flags: append(inputFlags(),
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write the groups to this file instead of stdout",
				Destination: &outputPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyInputConfig(cmd, LoadConfig())
			in, err := loadInputs()
			if err != nil {
				return err
			}
			groups, err := unify.FindFQsToUnify(in.graph, in.catalog, logger.FromContext(ctx))
			if err != nil {
				return err
			}
			if groups == nil {
				groups = []unify.Group{}
			}
			out, err := resolveOutputPath(outputPath)
			if err != nil {
				return err
			}
			return writeOutput(out, func(w io.Writer) error {
				data, err := json.MarshalIndent(groups, "", "  ")
				if err != nil {
					return fmt.Errorf("encode groups: %w", err)
				}
				_, err = fmt.Fprintln(w, string(data))
				return err
			})
		},
	}
}
