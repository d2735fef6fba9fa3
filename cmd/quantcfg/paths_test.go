package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveHardwarePath(t *testing.T) {
	t.Parallel()

	abs := filepath.Join(t.TempDir(), "cpu.json")
	cases := []struct {
		name           string
		flag           string
		fromToolConfig string
		toolConfigFile string
		want           string
		wantErr        error
	}{
		{name: "flag wins", flag: " hw/cpu.json ", fromToolConfig: "other.json", want: filepath.Clean("hw/cpu.json")},
		{name: "relative to tool config", fromToolConfig: "cpu.json", toolConfigFile: filepath.Join("cfg", "tool.yaml"), want: filepath.Join("cfg", "cpu.json")},
		{name: "absolute from tool config", fromToolConfig: abs, toolConfigFile: filepath.Join("cfg", "tool.yaml"), want: abs},
		{name: "missing", wantErr: errNoHardware},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolveHardwarePath(tc.flag, tc.fromToolConfig, tc.toolConfigFile)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error got %v want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("path got %q want %q", got, tc.want)
			}
		})
	}
}

func TestResolveOutputPath(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		for _, flag := range []string{"", "-", "  "} {
			got, err := resolveOutputPath(flag)
			if err != nil || got != "" {
				t.Fatalf("resolveOutputPath(%q) got %q, %v", flag, got, err)
			}
		}
	})

	t.Run("creates parent directory", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "nested", "report.json")
		got, err := resolveOutputPath(out)
		if err != nil {
			t.Fatalf("resolveOutputPath returned error: %v", err)
		}
		if got != filepath.Clean(out) {
			t.Fatalf("unexpected output path: got %q want %q", got, filepath.Clean(out))
		}
		if _, err := os.Stat(filepath.Dir(got)); err != nil {
			t.Fatalf("expected output directory to exist: %v", err)
		}
	})

	t.Run("rejects directory", func(t *testing.T) {
		if _, err := resolveOutputPath(t.TempDir()); err == nil {
			t.Fatalf("expected error for directory output")
		}
	})
}
