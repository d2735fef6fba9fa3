package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quantcfg/internal/logger"
)

var (
	graphPath      string
	hardwarePath   string
	toolConfigPath string
	logLevel       string
	logFormat      string
	debug          bool
)

func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "graph",
			Aliases:     []string{"g"},
			Usage:       "path to the graph document (JSON)",
			Required:    true,
			Destination: &graphPath,
		},
		&cli.StringFlag{
			Name:        "hardware",
			Aliases:     []string{"hw"},
			Usage:       "path to the hardware descriptor (JSON)",
			Sources:     cli.EnvVars(envHardwareConfig),
			Destination: &hardwarePath,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to the tool configuration (YAML or JSON)",
			Destination: &toolConfigPath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging builds the logger from the logging flags and the user
// defaults, and stores it in the context every command receives.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyLoggingConfig(cmd, LoadConfig())
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log, err := logger.ForFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
