package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmcode/fixos/pkg/config"
	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/orchestrator"
)

func init() {
	color.NoColor = true
}

func TestParseDecision(t *testing.T) {
	tests := map[string]orchestrator.Decision{
		"":         orchestrator.Approve,
		"y":        orchestrator.Approve,
		" YES ":    orchestrator.Approve,
		"s":        orchestrator.SkipAll,
		"skip all": orchestrator.SkipAll,
		"n":        orchestrator.Decline,
		"maybe":    orchestrator.Decline,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseDecision(in), "%q", in)
	}
}

func pipeInput(t *testing.T, input string) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString(input)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	t.Cleanup(func() { r.Close() })
	return r
}

func TestInteractiveConfirm(t *testing.T) {
	var out bytes.Buffer
	confirm := interactiveConfirm(newKeyReader(pipeInput(t, "y\nn\ns\n\n")), &out)
	p := model.ProblemSummary{ID: "p1", Description: "no sound", Severity: model.SeverityCritical}
	ctx := context.Background()

	assert.Equal(t, orchestrator.Approve, confirm(ctx, p, "dnf install -y sof-firmware"))
	assert.Equal(t, orchestrator.Decline, confirm(ctx, p, "echo b"))
	assert.Equal(t, orchestrator.SkipAll, confirm(ctx, p, "echo c"))
	assert.Equal(t, orchestrator.Approve, confirm(ctx, p, "echo d"))
	assert.Equal(t, orchestrator.Decline, confirm(ctx, p, "echo e"), "EOF declines")

	assert.Contains(t, out.String(), "$ dnf install -y sof-firmware")
	assert.Contains(t, out.String(), "[p1] no sound")
}

func TestAskYesNo(t *testing.T) {
	keys := newKeyReader(pipeInput(t, "\nno\nyes\n"))
	var out bytes.Buffer
	ctx := context.Background()
	assert.True(t, askYesNo(ctx, keys, &out, "Send?", true))
	assert.False(t, askYesNo(ctx, keys, &out, "Send?", true))
	assert.True(t, askYesNo(ctx, keys, &out, "Start?", false))
	assert.False(t, askYesNo(ctx, keys, &out, "Start?", true), "EOF answers no")
}

func TestConfirmReturnsWhenContextEnds(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })

	keys := newKeyReader(r)
	var out bytes.Buffer
	confirm := interactiveConfirm(keys, &out)
	p := model.ProblemSummary{ID: "p1", Description: "no sound"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan orchestrator.Decision, 1)
	go func() { done <- confirm(ctx, p, "echo a") }()

	select {
	case d := <-done:
		assert.Equal(t, orchestrator.Decline, d)
	case <-time.After(2 * time.Second):
		t.Fatal("confirm stayed blocked after its context ended")
	}

	// The abandoned read delivers to the next prompt.
	_, err = w.WriteString("y\n")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Approve, confirm(context.Background(), p, "echo b"))
}

func TestAnnouncingPrintsHeaderOncePerAttempt(t *testing.T) {
	var out bytes.Buffer
	confirm := announcing(orchestrator.ApproveAll, &out)
	p := model.ProblemSummary{ID: "p1", Description: "disk full"}
	ctx := context.Background()
	confirm(ctx, p, "a")
	confirm(ctx, p, "b")
	p.Attempts = 1
	confirm(ctx, p, "a")
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("[p1] disk full")))
}

func TestLoadProblemsFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	list, err := loadProblemsFile(write("list.yaml", `
- id: p1
  description: missing firmware
  severity: critical
  fix_commands: ["dnf install -y sof-firmware"]
- id: p2
  description: pipewire down
  caused_by: [p1]
`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"p1"}, list[1].CausedBy)

	doc, err := loadProblemsFile(write("doc.json", `{"problems": [{"description": "x", "fix_commands": ["true"]}]}`))
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, []string{"true"}, doc[0].FixCommands)

	_, err = loadProblemsFile(write("empty.yaml", "problems: []\n"))
	assert.ErrorContains(t, err, "lists no problems")

	_, err = loadProblemsFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfirmPolicy(t *testing.T) {
	keys := newKeyReader(pipeInput(t, ""))
	var out bytes.Buffer

	cfg := config.Default()
	cfg.DryRun = true
	confirm, err := confirmPolicy(context.Background(), cfg, keys, &out)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Approve, confirm(context.Background(), model.ProblemSummary{ID: "p"}, "x"))

	cfg = config.Default()
	cfg.AgentMode = config.ModeAutonomous
	cfg.MaxAutoFixes = 1
	assumeYes = true
	t.Cleanup(func() { assumeYes = false })
	confirm, err = confirmPolicy(context.Background(), cfg, keys, &out)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Approve, confirm(context.Background(), model.ProblemSummary{ID: "p"}, "x"))
	assert.Equal(t, orchestrator.SkipAll, confirm(context.Background(), model.ProblemSummary{ID: "p"}, "y"))
}

func newTestRoot(sub *cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "fixos", SilenceUsage: true, SilenceErrors: true}
	BindGlobalFlags(root.PersistentFlags())
	root.AddCommand(sub)
	return root
}

func TestPlanCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "problems.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: p2
  description: pipewire down
  caused_by: [p1]
  fix_commands: ["systemctl --user restart pipewire"]
- id: p1
  description: missing firmware
  fix_commands: ["dnf install -y sof-firmware"]
`), 0o600))

	root := newTestRoot(NewPlanCmd())
	root.SetArgs([]string{"plan", path, "-o", "json"})
	require.NoError(t, root.Execute())

	root = newTestRoot(NewPlanCmd())
	root.SetArgs([]string{"plan", path, "-o", "xml"})
	assert.ErrorContains(t, root.Execute(), "unknown output format")
	outputFormat = "human"
}

func TestListProviders(t *testing.T) {
	var out bytes.Buffer
	env := map[string]string{"OPENAI_API_KEY": "k"}
	require.NoError(t, listProviders(&out, func(k string) string { return env[k] }))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], "PROVIDER")
	for _, l := range lines {
		if strings.HasPrefix(l, "claude") {
			assert.Contains(t, l, "key not set")
		}
		if strings.HasPrefix(l, "ollama") || strings.HasPrefix(l, "openai ") {
			assert.Contains(t, l, "ready")
		}
	}
}
