package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/helmcode/fixos/pkg/formatter"
	"github.com/helmcode/fixos/pkg/orchestrator"
	"github.com/helmcode/fixos/pkg/redact"
)

func NewPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan PROBLEMS_FILE",
		Short: "Show the execution order for a problems file without running anything",
		Long: `Load problems from a YAML or JSON file and print the order fixos would
fix them in, with the commands and the dependency tree.

Examples:
  fixos plan problems.yaml
  fixos plan problems.json -o json`,
		Args: cobra.ExactArgs(1),
		RunE: runPlan,
	}
}

func runPlan(cmd *cobra.Command, args []string) error {
	if _, err := loadSettings(cmd); err != nil {
		return err
	}
	specs, err := loadProblemsFile(args[0])
	if err != nil {
		return err
	}
	o := orchestrator.New(nil, nil, orchestrator.WithRedactor(redact.New(redact.Identity{})))
	if _, err := o.LoadFromList(specs); err != nil {
		return err
	}
	return formatter.DisplayPlan(os.Stdout, o.Graph(), outputFormat)
}
