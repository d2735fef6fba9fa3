package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const envHardwareConfig = "QUANTCFG_HARDWARE_CONFIG"

var errNoHardware = fmt.Errorf("--hardware is required unless the tool configuration sets hardware_config or %s is set", envHardwareConfig)

// resolveHardwarePath picks the descriptor path: the flag first, then the
// tool configuration's hardware_config, taken relative to the directory of
// the tool configuration file.
func resolveHardwarePath(flag, fromToolConfig, toolConfigFile string) (string, error) {
	if flag = strings.TrimSpace(flag); flag != "" {
		return filepath.Clean(flag), nil
	}
	fromToolConfig = strings.TrimSpace(fromToolConfig)
	if fromToolConfig == "" {
		return "", errNoHardware
	}
	if filepath.IsAbs(fromToolConfig) || toolConfigFile == "" {
		return filepath.Clean(fromToolConfig), nil
	}
	return filepath.Join(filepath.Dir(toolConfigFile), fromToolConfig), nil
}

// resolveOutputPath cleans an explicit output path and creates its parent
// directory. An empty path or "-" selects stdout and yields "".
func resolveOutputPath(outFlag string) (string, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag == "" || outFlag == "-" {
		return "", nil
	}
	outPath := filepath.Clean(outFlag)
	if st, err := os.Stat(outPath); err == nil && st.IsDir() {
		return "", fmt.Errorf("output path is a directory: %s", outPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	return outPath, nil
}
