package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow>",
	Short: "Validate a workflow definition",
	Long: `Parse and statically check a workflow without running it: structural
rules, schema declarations, and the output-usage check that rejects
declared outputs nothing downstream reads.

Examples:
  steer validate implement
  steer validate ./drafts/new-flow.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	wf, err := resolveWorkflow(cfg, dir, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s: OK (%d steps)\n", wf.Name, len(wf.Steps))
	return nil
}
