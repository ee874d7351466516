package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/helmcode/fixos/pkg/config"
	"github.com/helmcode/fixos/pkg/logging"
	"github.com/helmcode/fixos/pkg/model"
)

var (
	configPath   string
	providerName string
	modelName    string
	logLevel     string
	outputFormat string
)

// BindGlobalFlags registers the flags shared by every subcommand.
func BindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&configPath, "config", "", "Path to config file (default ~/.config/fixos/config.yaml)")
	fs.StringVar(&providerName, "provider", "", "LLM provider (claude, openai, gemini, xai, openrouter, ollama)")
	fs.StringVar(&modelName, "model", "", "LLM model (default depends on provider)")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, quiet)")
	fs.StringVarP(&outputFormat, "output", "o", "human", "Output format (human, json, yaml)")
}

// loadSettings reads config and applies flags the user set explicitly.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider = providerName
	}
	if flags.Changed("model") {
		cfg.Model = modelName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	switch outputFormat {
	case "human", "json", "yaml":
	default:
		return nil, fmt.Errorf("unknown output format %q (human, json, yaml)", outputFormat)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

// newSpinner writes to stderr so -o json output stays parseable.
func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	return s
}

// problemsFile accepts either a bare list or a {problems: [...]} document.
// YAML parsing also covers JSON files.
type problemsFile struct {
	Problems []model.ProblemSpec `yaml:"problems"`
}

func loadProblemsFile(path string) ([]model.ProblemSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problems file: %w", err)
	}
	var list []model.ProblemSpec
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var doc problemsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse problems file %s: %w", path, err)
	}
	if len(doc.Problems) == 0 {
		return nil, fmt.Errorf("problems file %s lists no problems", path)
	}
	return doc.Problems, nil
}

func printSuccess(msg string) {
	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "✓ %s\n", msg)
}

func printWarning(msg string) {
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(os.Stderr, "⚠ %s\n", msg)
}

func printError(msg string) {
	red := color.New(color.FgRed)
	red.Fprintf(os.Stderr, "✗ %s\n", msg)
}
