package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steerworks/steer/internal/pool"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show runner pool usage",
	Long: `Show the shared runner pool: every active claim across processes
and how many slots remain. Claims whose owning process has died are
swept automatically.

Examples:
  steer pool`,
	Args: cobra.NoArgs,
	RunE: runPool,
}

func init() {
	rootCmd.AddCommand(poolCmd)
}

func runPool(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	dbPath, err := cfg.ClaimsDB(dir)
	if err != nil {
		return err
	}

	registry, err := pool.NewSQLiteRegistry(dbPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	claims, err := registry.List()
	if err != nil {
		return err
	}

	p := pool.New(cfg.Pool.MaxConcurrent, registry)
	available, err := p.AvailableSlots()
	if err != nil {
		return err
	}

	fmt.Printf("Runner pool: %d/%d slots in use, %d available\n",
		len(claims), cfg.Pool.MaxConcurrent, available)

	if len(claims) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Printf("  %-8s %-20s %-12s %s\n", "PID", "WORKFLOW", "CHANGESPEC", "WORKSPACE")
	for _, c := range claims {
		cl := c.CLName
		if cl == "" {
			cl = "-"
		}
		fmt.Printf("  %-8d %-20s %-12s %s\n", c.PID, c.WorkflowLabel, cl, c.WorkspaceID)
	}
	return nil
}
