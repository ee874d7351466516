package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/helmcode/fixos/pkg/diagnostics"
	"github.com/helmcode/fixos/pkg/executor"
	"github.com/helmcode/fixos/pkg/formatter"
	"github.com/helmcode/fixos/pkg/orchestrator"
	"github.com/helmcode/fixos/pkg/redact"
)

var (
	scanRedact   bool
	scanDiagnose bool
)

func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Collect diagnostics without changing anything",
		Long: `Run the read-only diagnostics modules and print the snapshot.

Examples:
  # Everything local
  fixos scan

  # Show exactly what would be sent to the LLM
  fixos scan --redact -o json

  # Ask the LLM for problems and print the plan, but do not fix
  fixos scan --diagnose`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().BoolVar(&scanRedact, "redact", false, "Redact the snapshot as it would be before sending")
	cmd.Flags().BoolVar(&scanDiagnose, "diagnose", false, "Ask the LLM for problems and print the plan")
	addDiagnosticsFlags(cmd)
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	applyDiagnosticsFlags(cmd, cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	exec := executor.New(executor.WithLogger(logger.Named("executor")))
	mods, err := selectModules(exec, cfg)
	if err != nil {
		return err
	}

	s := newSpinner("Collecting diagnostics...")
	s.Start()
	snap, err := diagnostics.NewCollector(diagnostics.WithLogger(logger.Named("diagnostics"))).Collect(ctx, mods...)
	s.Stop()
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Collected %d modules", len(snap.Modules)))

	redactor := redact.NewFromEnvironment()
	if scanDiagnose {
		collab, err := newCollaborator(cfg, logger.Named("llm"))
		if err != nil {
			return fmt.Errorf("LLM unavailable: %w", err)
		}
		o := orchestrator.New(exec, collab,
			orchestrator.WithConfig(orchestratorConfig(cfg, diagnostics.OSInfo(ctx, exec))),
			orchestrator.WithLogger(logger.Named("orchestrator")),
			orchestrator.WithRedactor(redactor))
		s = newSpinner("Diagnosing with AI...")
		s.Start()
		_, err = o.LoadFromSnapshot(ctx, snap)
		s.Stop()
		if err != nil {
			return fmt.Errorf("AI diagnosis failed: %w", err)
		}
		return formatter.DisplayPlan(os.Stdout, o.Graph(), outputFormat)
	}

	if !scanRedact {
		return formatter.DisplaySnapshot(os.Stdout, snap, snap.Modules, outputFormat)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	text, rep := redactor.Redact(string(raw))
	var redacted diagnostics.Snapshot
	if err := json.Unmarshal([]byte(text), &redacted); err != nil {
		return fmt.Errorf("failed to decode redacted snapshot: %w", err)
	}
	if err := formatter.DisplaySnapshot(os.Stdout, &redacted, redacted.Modules, outputFormat); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "🔒 Redaction report:")
	fmt.Fprintln(os.Stderr, rep.Summary())
	return nil
}
