package main

import (
	"fmt"
	"os"

	"github.com/helmcode/fixos/cmd"
	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0" // Overwritten at build time
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fixos",
		Short: "AI-assisted diagnosis and repair of your operating system",
		Long: `fixos collects read-only diagnostics, asks an LLM what is wrong, and fixes
the problems it finds root cause first. Identifying data is redacted before
anything leaves the machine and destructive commands are never run.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Disable automatic 'completion' command added by cobra
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cmd.BindGlobalFlags(rootCmd.PersistentFlags())

	// Add subcommands
	rootCmd.AddCommand(
		cmd.NewFixCmd(),
		cmd.NewScanCmd(),
		cmd.NewPlanCmd(),
		cmd.NewProvidersCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fixos version %s\n", version)
		},
	}
}
