package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helmcode/fixos/pkg/analyzer"
	"github.com/helmcode/fixos/pkg/config"
	"github.com/helmcode/fixos/pkg/diagnostics"
	"github.com/helmcode/fixos/pkg/executor"
	"github.com/helmcode/fixos/pkg/formatter"
	"github.com/helmcode/fixos/pkg/llm"
	"github.com/helmcode/fixos/pkg/metrics"
	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/orchestrator"
	"github.com/helmcode/fixos/pkg/redact"
	"github.com/helmcode/fixos/pkg/telemetry"
)

var (
	dryRun       bool
	agentMode    string
	problemsPath string
	reportPath   string
	showData     bool
	metricsFile  string
	modules      []string
	kubeconfig   string
	namespace    string
	maxAutoFixes int
	assumeYes    bool
)

func NewFixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Diagnose the system and fix problems in dependency order",
		Long: `Collect diagnostics, ask the LLM for problems, then fix them root cause first.
Every command is checked against a destructive-command blocklist and, in hitl
mode, confirmed before it runs.

Examples:
  # Diagnose and fix interactively
  fixos fix

  # Only look at audio, preview commands without running them
  fixos fix --modules audio --dry-run

  # Fix a known list of problems without diagnosis
  fixos fix --problems problems.yaml

  # Unattended, at most 5 commands, JSON report
  fixos fix --mode autonomous --max-auto-fixes 5 --yes -o json --report report.json`,
		Args: cobra.NoArgs,
		RunE: runFix,
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview commands without running them")
	cmd.Flags().StringVar(&agentMode, "mode", "", "Agent mode: hitl (confirm each command) or autonomous")
	cmd.Flags().StringVar(&problemsPath, "problems", "", "YAML/JSON file with problems to fix instead of diagnosing")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the session report as JSON to this file")
	cmd.Flags().BoolVar(&showData, "show-data", false, "Show what will be redacted and ask before sending data to the LLM")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this file")
	cmd.Flags().IntVar(&maxAutoFixes, "max-auto-fixes", 0, "Command limit in autonomous mode")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before starting autonomous mode")
	addDiagnosticsFlags(cmd)

	return cmd
}

func addDiagnosticsFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&modules, "modules", "m", nil, "Diagnostics modules (system, services, disk, audio, hardware, kubernetes)")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", diagnostics.DefaultKubeconfig(), "Path to kubeconfig file for the kubernetes module")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Kubernetes namespace (default all)")
}

func applyFixFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("dry-run") {
		cfg.DryRun = dryRun
	}
	if flags.Changed("mode") {
		cfg.AgentMode = config.AgentMode(agentMode)
	}
	if flags.Changed("max-auto-fixes") {
		cfg.MaxAutoFixes = maxAutoFixes
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = metricsFile
	}
	applyDiagnosticsFlags(cmd, cfg)
	return cfg.Validate()
}

func applyDiagnosticsFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("modules") {
		cfg.Modules = modules
	}
	if flags.Changed("kubeconfig") || cfg.Kubeconfig == "" {
		cfg.Kubeconfig = kubeconfig
	}
	if flags.Changed("namespace") {
		cfg.Namespace = namespace
	}
}

// availableModules lists every diagnostics module; kubernetes is only
// included when selected by name.
func availableModules(p diagnostics.Prober, cfg *config.Config) []diagnostics.Module {
	return append(diagnostics.Local(p), diagnostics.LazyKubernetes(cfg.Kubeconfig, cfg.Namespace))
}

func selectModules(p diagnostics.Prober, cfg *config.Config) ([]diagnostics.Module, error) {
	if len(cfg.Modules) == 0 {
		return diagnostics.Local(p), nil
	}
	return diagnostics.Select(availableModules(p, cfg), cfg.Modules)
}

func newCollaborator(cfg *config.Config, logger *zap.Logger) (*analyzer.Analyzer, error) {
	return analyzer.NewWithProvider(
		llm.Config{Provider: cfg.Provider, Model: cfg.Model, BaseURL: cfg.BaseURL},
		llm.WithRetryLogger(logger),
	)
}

func orchestratorConfig(cfg *config.Config, osInfo string) orchestrator.Config {
	return orchestrator.Config{
		MaxIterations:       cfg.MaxIterations,
		AutoAcceptThreshold: cfg.AutoAcceptThreshold,
		SessionTimeout:      cfg.SessionTimeout,
		CommandTimeout:      cfg.CommandTimeout,
		MaxAttempts:         cfg.MaxAttempts,
		OSInfo:              osInfo,
	}
}

func runFix(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if err := applyFixFlags(cmd, cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "fixos", cmd.Root().Version); err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())

	// Human output shares stdout with progress; machine output keeps it clean.
	out := io.Writer(os.Stdout)
	if outputFormat != "human" {
		out = os.Stderr
	}
	keys := newKeyReader(os.Stdin)

	exec := executor.New(
		executor.WithDryRun(cfg.DryRun),
		executor.WithTimeout(cfg.CommandTimeout),
		executor.WithLogger(logger.Named("executor")),
	)
	rec := metrics.New()
	redactor := redact.NewFromEnvironment()
	osInfo := diagnostics.OSInfo(ctx, exec)

	printHeader(out, cfg, osInfo)

	collab, collabErr := newCollaborator(cfg, logger.Named("llm"))
	var collaborator orchestrator.Collaborator
	if collabErr == nil {
		collaborator = collab
		printSuccess("Using model " + collab.Model())
	}

	o := orchestrator.New(exec, collaborator,
		orchestrator.WithConfig(orchestratorConfig(cfg, osInfo)),
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithRedactor(redactor),
		orchestrator.WithMetrics(rec),
		orchestrator.WithDiscoveryHandler(func(parent string, p model.ProblemSummary) {
			formatter.PrintDiscovery(out, parent, p)
		}),
	)

	if problemsPath != "" {
		specs, err := loadProblemsFile(problemsPath)
		if err != nil {
			return err
		}
		if collabErr != nil {
			printWarning(fmt.Sprintf("LLM unavailable (%v); verdicts will use exit codes", collabErr))
		}
		added, err := o.LoadFromList(specs)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Loaded %d problems from %s", len(added), problemsPath))
	} else {
		if collabErr != nil {
			return fmt.Errorf("LLM unavailable: %w", collabErr)
		}
		proceed, err := diagnose(ctx, o, exec, redactor, cfg, keys, logger)
		if err != nil || !proceed {
			return err
		}
	}

	if o.Graph().Len() == 0 {
		printSuccess("No problems found")
		return nil
	}
	fmt.Fprintln(out)
	color.New(color.FgWhite, color.Bold).Fprintln(out, "🌳 PROBLEMS:")
	fmt.Fprintln(out, formatter.ColorTree(o.Graph()))

	confirm, err := confirmPolicy(ctx, cfg, keys, out)
	if err != nil || confirm == nil {
		return err
	}

	sum, runErr := o.Run(ctx, confirm, func(p model.ProblemSummary, res *model.ExecutionResult) {
		formatter.PrintResult(out, p, res)
	})
	if sum == nil {
		return runErr
	}

	rep := formatter.NewReport(o, sum)
	if err := formatter.DisplayReport(os.Stdout, rep, o.Graph(), outputFormat); err != nil {
		return err
	}
	if reportPath != "" {
		if err := formatter.WriteReportFile(reportPath, rep); err != nil {
			return err
		}
		printSuccess("Report written to " + reportPath)
	}
	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			printError(err.Error())
		}
	}
	if showData {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "🔒 Redacted before leaving this machine:")
		fmt.Fprintln(out, o.Redactions().Summary())
	}

	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("interrupted")
	}
	return runErr
}

// diagnose collects a snapshot and seeds the graph from it. It returns false
// when the user declines to send the data.
func diagnose(ctx context.Context, o *orchestrator.Orchestrator, exec *executor.Executor, redactor *redact.Redactor,
	cfg *config.Config, keys *keyReader, logger *zap.Logger) (bool, error) {
	mods, err := selectModules(exec, cfg)
	if err != nil {
		return false, err
	}

	s := newSpinner("Collecting diagnostics...")
	s.Start()
	snap, err := diagnostics.NewCollector(diagnostics.WithLogger(logger.Named("diagnostics"))).Collect(ctx, mods...)
	s.Stop()
	if err != nil {
		return false, err
	}
	printSuccess(fmt.Sprintf("Collected %d modules", len(snap.Modules)))
	for _, name := range snap.Errors() {
		printWarning(fmt.Sprintf("module %s failed: %v", name, snap.Modules[name]["error"]))
	}

	if showData {
		raw, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return false, err
		}
		_, rep := redactor.Redact(string(raw))
		fmt.Fprintln(os.Stderr, "🔒 Redaction preview:")
		fmt.Fprintln(os.Stderr, rep.Summary())
		if !askYesNo(ctx, keys, os.Stderr, "Send the redacted data to the LLM?", true) {
			printWarning("Cancelled")
			return false, nil
		}
	}

	s = newSpinner("Diagnosing with AI...")
	s.Start()
	added, err := o.LoadFromSnapshot(ctx, snap)
	s.Stop()
	if err != nil {
		return false, fmt.Errorf("AI diagnosis failed: %w", err)
	}
	printSuccess(fmt.Sprintf("Found %d problems", len(added)))
	return true, nil
}

// confirmPolicy picks the confirmation policy for the configured mode. A nil
// policy with a nil error means the user backed out.
func confirmPolicy(ctx context.Context, cfg *config.Config, keys *keyReader, out io.Writer) (orchestrator.ConfirmFunc, error) {
	if cfg.DryRun {
		return announcing(orchestrator.ApproveAll, out), nil
	}
	if cfg.AgentMode == config.ModeAutonomous {
		if !assumeYes {
			if !isTerminal(os.Stdin) {
				return nil, errors.New("autonomous mode needs --yes when stdin is not a terminal")
			}
			printWarning(fmt.Sprintf("Autonomous mode runs up to %d commands without asking. Ctrl+C stops it.", cfg.MaxAutoFixes))
			if !askYesNo(ctx, keys, os.Stderr, "Start autonomous mode?", false) {
				printWarning("Cancelled. Use --mode hitl to confirm each command.")
				return nil, nil
			}
		}
		return announcing(orchestrator.AutoApprove(cfg.MaxAutoFixes), out), nil
	}
	return interactiveConfirm(keys, out), nil
}

func printHeader(w io.Writer, cfg *config.Config, osInfo string) {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(w)
	cyan.Fprintln(w, "🔧 fixos")
	fmt.Fprintf(w, "💻 System: %s\n", osInfo)
	mode := string(cfg.AgentMode)
	if cfg.DryRun {
		mode += " (dry run)"
	}
	fmt.Fprintf(w, "🤖 Mode: %s\n", mode)
	fmt.Fprintf(w, "⏱  Session timeout: %s\n", cfg.SessionTimeout)
	fmt.Fprintln(w)
}
