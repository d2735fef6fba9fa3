package main

import (
	"fmt"
	"io"
	"os"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/hwconfig"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
)

type inputs struct {
	graph   *graph.Graph
	catalog *hwconfig.Catalog
	config  toolconfig.Config
}

func loadInputs() (inputs, error) {
	var in inputs
	if toolConfigPath != "" {
		cfg, err := toolconfig.LoadFile(toolConfigPath)
		if err != nil {
			return inputs{}, err
		}
		in.config = cfg
	}
	hw, err := resolveHardwarePath(hardwarePath, in.config.HardwareConfig, toolConfigPath)
	if err != nil {
		return inputs{}, err
	}
	if in.catalog, err = hwconfig.LoadFile(hw); err != nil {
		return inputs{}, err
	}
	if in.graph, err = graph.DecodeFile(graphPath); err != nil {
		return inputs{}, fmt.Errorf("load graph %s: %w", graphPath, err)
	}
	return in, nil
}

// writeOutput writes to path, or to stdout when path is empty.
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
