package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmcode/fixos/pkg/llm"
)

func NewProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported LLM providers and their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listProviders(os.Stdout, os.Getenv)
		},
	}
}

func listProviders(w io.Writer, getenv func(string) string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tDEFAULT MODEL\tKEY\tSTATUS")
	for _, p := range llm.NewFactory().GetAvailableProviders() {
		def, _ := llm.Defaults(p)
		key, status := "-", color.GreenString("ready")
		if def.KeyEnv != "" {
			key = def.KeyEnv
			if getenv(def.KeyEnv) == "" {
				status = color.YellowString("key not set")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p, def.Model, key, status)
	}
	return tw.Flush()
}
