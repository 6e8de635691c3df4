package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steerworks/steer/internal/engine"
	"github.com/steerworks/steer/internal/status"
	"github.com/steerworks/steer/internal/types"
)

var (
	statusJSON     bool
	statusAllSteps bool
	statusNoColor  bool
	statusQuiet    bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Display run progress from the persisted state files alone; the
owning process is never consulted.

Without arguments, lists all runs under the runs directory. With a
run ID, shows that run's detailed step breakdown.

Examples:
  steer status
  steer status run-1a2b3c4d
  steer status run-1a2b3c4d --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatusCmd,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "output as JSON")
	statusCmd.Flags().BoolVar(&statusAllSteps, "all-steps", false, "show all steps, even for completed runs")
	statusCmd.Flags().BoolVar(&statusNoColor, "no-color", false, "disable colors")
	statusCmd.Flags().BoolVarP(&statusQuiet, "quiet", "q", false, "minimal output")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	runsDir := cfg.RunsDir(dir)

	opts := status.FormatOptions{
		NoColor:  statusNoColor,
		AllSteps: statusAllSteps,
		Quiet:    statusQuiet,
	}

	if len(args) == 1 {
		summary, err := loadRunSummary(runsDir, args[0])
		if err != nil {
			return err
		}
		return printSummary(summary, opts)
	}

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No runs found.")
			return nil
		}
		return fmt.Errorf("reading runs directory: %w", err)
	}

	var summaries []*status.RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summary, err := loadRunSummary(runsDir, entry.Name())
		if err != nil {
			continue // Partially written or foreign directory
		}
		summaries = append(summaries, summary)
	}

	if len(summaries) == 0 {
		fmt.Println("No runs found.")
		fmt.Println()
		fmt.Println("Run 'steer run <workflow>' to start one.")
		return nil
	}

	if statusJSON {
		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].StartedAt.After(summaries[j].StartedAt)
		})
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Print(status.FormatRunList(summaries, opts))
	return nil
}

// loadRunSummary reads a run's state file directly, without taking the
// run lock.
func loadRunSummary(runsDir, runID string) (*status.RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(runsDir, runID, engine.StateFile))
	if err != nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	var state types.RunState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state for run %s: %w", runID, err)
	}
	return status.NewRunSummary(runID, &state), nil
}

func printSummary(summary *status.RunSummary, opts status.FormatOptions) error {
	if statusJSON {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(status.FormatRun(summary, opts))
	return nil
}
