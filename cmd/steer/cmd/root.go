package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steerworks/steer/internal/config"
	"github.com/steerworks/steer/internal/types"
	"github.com/steerworks/steer/internal/workflow"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose bool
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "steer",
	Short: "steer - workflow engine for AI coding agents",
	Long: `steer runs YAML workflows that drive AI coding agents: shell and
script steps feed structured outputs into model prompts, human review
gates suspend the run, and crash-safe state files make every run
resumable.

Run 'steer run <workflow>' to start, 'steer status' to inspect.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("steer {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return filepath.Abs(workDir)
	}
	return os.Getwd()
}

// loadConfig resolves the layered configuration for the working
// directory.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveWorkflow loads a workflow by file path or by name from the
// configured workflow directory, and lints it.
func resolveWorkflow(cfg *config.Config, dir, nameOrPath string) (*types.Workflow, error) {
	path := nameOrPath
	if !strings.ContainsRune(nameOrPath, os.PathSeparator) && !strings.HasSuffix(nameOrPath, ".yaml") && !strings.HasSuffix(nameOrPath, ".yml") {
		wfDir := cfg.WorkflowDir(dir)
		for _, candidate := range []string{
			filepath.Join(wfDir, nameOrPath+".yaml"),
			filepath.Join(wfDir, nameOrPath+".yml"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	wf, err := workflow.Load(path)
	if err != nil {
		return nil, err
	}
	if err := workflow.Lint(wf, false); err != nil {
		return nil, err
	}
	return wf, nil
}

// parseVars turns repeated --var key=value flags into an input map.
func parseVars(vars []string) (map[string]any, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(vars))
	for _, v := range vars {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (expected key=value)", v)
		}
		inputs[key] = value
	}
	return inputs, nil
}
