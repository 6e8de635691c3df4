package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steerworks/steer/internal/changespec"
	"github.com/steerworks/steer/internal/config"
	"github.com/steerworks/steer/internal/engine"
	"github.com/steerworks/steer/internal/logging"
	"github.com/steerworks/steer/internal/model"
	"github.com/steerworks/steer/internal/pool"
	"github.com/steerworks/steer/internal/store"
	"github.com/steerworks/steer/internal/types"
	"github.com/steerworks/steer/internal/workflow"
)

var (
	runVars   []string
	runModel  string
	runCL     string
	runNoPool bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Start a workflow run",
	Long: `Start a new run of the named workflow (resolved from the configured
workflow directory, or given as a file path).

The run claims a slot in the shared runner pool before starting and
releases it when it finishes or suspends. Run state is persisted after
every step, so an interrupted run can be picked up with 'steer resume'.

Examples:
  steer run implement --var feature="add retry flag"
  steer run review.yaml --model opus
  steer run implement --cl my-change`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "workflow input as key=value (repeatable)")
	runCmd.Flags().StringVar(&runModel, "model", "", "model identifier passed to the agent CLI")
	runCmd.Flags().StringVar(&runCL, "cl", "", "changespec to track this run against")
	runCmd.Flags().BoolVar(&runNoPool, "no-pool", false, "skip the shared runner pool")
}

func runRun(cmd *cobra.Command, args []string) error {
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

	wf, err := resolveWorkflow(cfg, dir, args[0])
	if err != nil {
		return err
	}
	inputs, err := parseVars(runVars)
	if err != nil {
		return err
	}

	if !runNoPool {
		release, err := claimPoolSlot(cfg, dir, wf.Name)
		if err != nil {
			return err
		}
		defer release()
	}

	runID := "run-" + uuid.NewString()[:8]
	runStore, err := store.NewFS(filepath.Join(cfg.RunsDir(dir), runID))
	if err != nil {
		return err
	}
	lock, err := runStore.AcquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	invoker := buildInvoker(cfg)
	eng := engine.New(engine.Options{
		Store:              runStore,
		Invoker:            invoker,
		Library:            workflow.NewLibrary(cfg.WorkflowDir(dir)),
		Logger:             logging.WithRun(logger, runID, wf.Name),
		WorkDir:            dir,
		MaxWhileIterations: cfg.Engine.MaxWhileIterations,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	markChangespec(dir, runCL, "in_progress", fmt.Sprintf("run %s started (%s)", runID, wf.Name))

	fmt.Printf("Started %s (%s)\n", runID, wf.Name)
	state, err := eng.Run(ctx, wf, inputs)
	return finishRun(dir, runID, state, err)
}

// finishRun reports the run outcome and records it against the tracked
// changespec.
func finishRun(dir, runID string, state *types.RunState, err error) error {
	if err != nil {
		markChangespec(dir, runCL, "failed", fmt.Sprintf("run %s failed: %v", runID, err))
		return err
	}
	switch state.Status {
	case types.RunStatusWaiting:
		markChangespec(dir, runCL, "in_review", fmt.Sprintf("run %s waiting for review", runID))
		fmt.Printf("Run %s is waiting for human review.\n", runID)
		fmt.Printf("Run: steer resume %s --accept | --reject | --edit <file>\n", runID)
	case types.RunStatusCompleted:
		markChangespec(dir, runCL, "done", fmt.Sprintf("run %s completed", runID))
		fmt.Printf("Run %s completed.\n", runID)
	}
	return nil
}

// buildInvoker assembles the agent CLI invoker with retries.
func buildInvoker(cfg *config.Config) model.Invoker {
	args := append([]string{}, cfg.Model.Args...)
	name := runModel
	if name == "" {
		name = cfg.Model.Name
	}
	if name != "" {
		args = append(args, "--model", name)
	}
	var invoker model.Invoker = model.NewCLIInvoker(cfg.Model.Command, args...)
	return model.NewRetryInvoker(invoker, cfg.Engine.RetryAttempts, cfg.Engine.RetryDelay)
}

// claimPoolSlot reserves one slot in the cross-process runner pool and
// registers this run's claim. The returned func releases the claim.
func claimPoolSlot(cfg *config.Config, dir, workflowName string) (func(), error) {
	dbPath, err := cfg.ClaimsDB(dir)
	if err != nil {
		return nil, err
	}
	registry, err := pool.NewSQLiteRegistry(dbPath)
	if err != nil {
		return nil, err
	}

	p := pool.New(cfg.Pool.MaxConcurrent, registry)
	ok, err := p.ReserveSlot()
	if err != nil {
		registry.Close()
		return nil, err
	}
	if !ok {
		count, _ := registry.Count()
		registry.Close()
		return nil, fmt.Errorf("runner pool at capacity (%d/%d active); retry later or raise pool.max_concurrent", count, cfg.Pool.MaxConcurrent)
	}

	claim := pool.Claim{
		WorkspaceID:   dir,
		WorkflowLabel: workflowName,
		PID:           os.Getpid(),
		CLName:        runCL,
	}
	if err := registry.Add(claim); err != nil {
		registry.Close()
		return nil, err
	}

	return func() {
		if err := registry.Remove(dir); err != nil {
			fmt.Fprintf(os.Stderr, "warning: releasing pool claim: %v\n", err)
		}
		registry.Close()
	}, nil
}

// markChangespec updates the tracked changespec. Best effort: a run
// never fails because its changespec record could not be written.
func markChangespec(dir, name, status, message string) {
	if name == "" {
		return
	}
	cs, err := changespec.NewFileStore(filepath.Join(dir, ".steer", "changespecs"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: changespec store: %v\n", err)
		return
	}
	if err := cs.UpdateStatus(name, status); err != nil {
		fmt.Fprintf(os.Stderr, "warning: changespec status: %v\n", err)
		return
	}
	if err := cs.AppendHistory(name, message); err != nil {
		fmt.Fprintf(os.Stderr, "warning: changespec history: %v\n", err)
	}
}
