package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steerworks/steer/internal/engine"
	"github.com/steerworks/steer/internal/logging"
	"github.com/steerworks/steer/internal/store"
	"github.com/steerworks/steer/internal/workflow"
)

var (
	resumeAccept bool
	resumeReject bool
	resumeEdit   string
	resumeNoPool bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a suspended or interrupted run",
	Long: `Continue a run from its persisted state.

A run waiting for human review needs a decision:
  --accept        keep the step's output as produced
  --reject        abort the run without publishing the output
  --edit <file>   publish the YAML record in <file> instead

A run interrupted mid-flight (crashed process) resumes without flags,
picking up at the step that was in progress.

Examples:
  steer resume run-1a2b3c4d --accept
  steer resume run-1a2b3c4d --edit fixed-plan.yaml
  steer resume run-1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().BoolVar(&resumeAccept, "accept", false, "accept the waiting step's output")
	resumeCmd.Flags().BoolVar(&resumeReject, "reject", false, "reject the waiting step's output and abort")
	resumeCmd.Flags().StringVar(&resumeEdit, "edit", "", "YAML file with a replacement output record")
	resumeCmd.Flags().BoolVar(&resumeNoPool, "no-pool", false, "skip the shared runner pool")
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	logger, closer, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	decision, err := buildDecision()
	if err != nil {
		return err
	}

	runStore, err := store.NewFS(filepath.Join(cfg.RunsDir(dir), runID))
	if err != nil {
		return err
	}
	lock, err := runStore.AcquireLock()
	if err != nil {
		return fmt.Errorf("run %s appears to be active in another process: %w", runID, err)
	}
	defer lock.Release()

	state, err := engine.LoadState(runStore)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}
	wf, err := resolveWorkflow(cfg, dir, state.WorkflowName)
	if err != nil {
		return err
	}

	if !resumeNoPool {
		release, err := claimPoolSlot(cfg, dir, wf.Name)
		if err != nil {
			return err
		}
		defer release()
	}

	eng := engine.New(engine.Options{
		Store:              runStore,
		Invoker:            buildInvoker(cfg),
		Library:            workflow.NewLibrary(cfg.WorkflowDir(dir)),
		Logger:             logging.WithRun(logger, runID, wf.Name),
		WorkDir:            dir,
		MaxWhileIterations: cfg.Engine.MaxWhileIterations,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Resuming %s (%s)\n", runID, wf.Name)
	err = eng.Resume(ctx, wf, state, decision)
	return finishRun(dir, runID, state, err)
}

// buildDecision translates the mutually exclusive decision flags.
func buildDecision() (*engine.HITLDecision, error) {
	set := 0
	if resumeAccept {
		set++
	}
	if resumeReject {
		set++
	}
	if resumeEdit != "" {
		set++
	}
	if set > 1 {
		return nil, fmt.Errorf("--accept, --reject and --edit are mutually exclusive")
	}

	switch {
	case resumeAccept:
		return &engine.HITLDecision{Action: engine.HITLAccept}, nil
	case resumeReject:
		return &engine.HITLDecision{Action: engine.HITLReject}, nil
	case resumeEdit != "":
		replacement, err := readReplacement(resumeEdit)
		if err != nil {
			return nil, err
		}
		return &engine.HITLDecision{Action: engine.HITLEdit, Replacement: replacement}, nil
	}
	return nil, nil
}

// readReplacement parses the --edit argument: a YAML file, or inline
// YAML when the argument is not an existing file.
func readReplacement(arg string) (map[string]any, error) {
	data := []byte(arg)
	if fileData, err := os.ReadFile(arg); err == nil {
		data = fileData
	} else if !strings.ContainsAny(arg, ":{") {
		return nil, fmt.Errorf("reading replacement file %s: %w", arg, err)
	}

	var replacement map[string]any
	if err := yaml.Unmarshal(data, &replacement); err != nil {
		return nil, fmt.Errorf("parsing replacement record: %w", err)
	}
	if len(replacement) == 0 {
		return nil, fmt.Errorf("replacement record is empty")
	}
	return replacement, nil
}
