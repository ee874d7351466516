package formatter

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/helmcode/fixos/pkg/graph"
	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/orchestrator"
	"github.com/helmcode/fixos/pkg/redact"
)

func init() {
	color.NoColor = true
}

type okRunner struct{}

func (okRunner) Run(_ context.Context, command string, _ time.Duration) (*model.ExecutionResult, error) {
	return &model.ExecutionResult{Command: command, Executed: true, Stdout: "ok"}, nil
}

func sampleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	root := model.NewProblem("p1", "missing firmware", model.SeverityCritical, "dnf install -y sof-firmware")
	child := model.NewProblem("p2", "pipewire not running", model.SeverityWarning, "systemctl --user restart pipewire")
	child.CausedBy = []string{"p1"}
	require.NoError(t, g.Add(root))
	require.NoError(t, g.Add(child))
	return g
}

func runSession(t *testing.T) (*orchestrator.Orchestrator, *orchestrator.SessionSummary) {
	t.Helper()
	o := orchestrator.New(okRunner{}, nil,
		orchestrator.WithGraph(sampleGraph(t)),
		orchestrator.WithRedactor(redact.New(redact.Identity{})),
		orchestrator.WithSessionID("s1"))
	sum, err := o.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	return o, sum
}

func TestDisplayReportFormats(t *testing.T) {
	o, sum := runSession(t)
	rep := NewReport(o, sum)
	require.Len(t, rep.Problems, 2)
	assert.Equal(t, "p1", rep.Problems[0].ID)

	var buf bytes.Buffer
	require.NoError(t, DisplayReport(&buf, rep, o.Graph(), "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "s1", decoded["summary"].(map[string]any)["session_id"])
	assert.NotEmpty(t, decoded["log"])

	buf.Reset()
	require.NoError(t, DisplayReport(&buf, rep, o.Graph(), "yaml"))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Contains(t, fromYAML, "problems")

	buf.Reset()
	require.NoError(t, DisplayReport(&buf, rep, o.Graph(), "human"))
	out := buf.String()
	assert.Contains(t, out, "SESSION SUMMARY")
	assert.Contains(t, out, "resolved:")
	assert.Contains(t, out, "all problems settled")
	assert.Contains(t, out, "[p2] pipewire not running")

	assert.Error(t, DisplayReport(&buf, rep, nil, "xml"))
}

func TestWriteReportFile(t *testing.T) {
	o, sum := runSession(t)
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteReportFile(path, NewReport(o, sum)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rep Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, orchestrator.StopCompleted, rep.Summary.StopReason)
	assert.Len(t, rep.Problems, 2)
}

func TestColorTree(t *testing.T) {
	tree := ColorTree(sampleGraph(t))
	lines := strings.Split(tree, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[p1] missing firmware")
	assert.Contains(t, lines[1], "└─")
	assert.Contains(t, lines[1], "[p2]")

	assert.Equal(t, "(no problems)", ColorTree(graph.New()))
}

func TestDisplayPlan(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, DisplayPlan(&buf, sampleGraph(t), "human"))
	out := buf.String()
	assert.Contains(t, out, "1. 🔴 [p1]")
	assert.Contains(t, out, "$ dnf install -y sof-firmware")
	assert.Contains(t, out, "After: p1")

	buf.Reset()
	require.NoError(t, DisplayPlan(&buf, sampleGraph(t), "json"))
	var plan Plan
	require.NoError(t, json.Unmarshal(buf.Bytes(), &plan))
	assert.Equal(t, []string{"p1", "p2"}, plan.ExecutionOrder)
}

func TestDisplaySnapshot(t *testing.T) {
	modules := map[string]map[string]any{
		"disk": {"usage": "Filesystem Size\n/dev/nvme0n1p3 100G"},
		"audio": {"error": "permission denied"},
	}
	var buf bytes.Buffer
	require.NoError(t, DisplaySnapshot(&buf, modules, modules, "human"))
	out := buf.String()
	assert.Less(t, strings.Index(out, "AUDIO"), strings.Index(out, "DISK"))
	assert.Contains(t, out, "Filesystem Size …")
	assert.Contains(t, out, "permission denied")
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name string
		res  *model.ExecutionResult
		want []string
	}{
		{"dry run", &model.ExecutionResult{DryRun: true, Preview: "[DRY-RUN] sudo dnf install x"}, []string{"[DRY-RUN] sudo dnf install x"}},
		{"success", &model.ExecutionResult{Command: "true", Executed: true, Stdout: "fine"}, []string{"✓ true", "┌─ stdout", "│ fine"}},
		{"failure", &model.ExecutionResult{Command: "false", Executed: true, ExitCode: 3, Stderr: "boom"}, []string{"exited with 3", "┌─ stderr", "│ boom"}},
		{"spawn", &model.ExecutionResult{Command: "x", ExitCode: -1, Error: "no such file"}, []string{"could not start: no such file"}},
		{"timeout", &model.ExecutionResult{Command: "sleep 9", Executed: true, TimedOut: true, ExitCode: -1, Duration: time.Second}, []string{"timed out after 1s"}},
		{"satisfied", &model.ExecutionResult{Command: "mkdir -p /tmp", Stdout: model.AlreadySatisfied}, []string{"already satisfied"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			PrintResult(&buf, model.ProblemSummary{ID: "p1"}, tt.res)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestPrintBoxTruncates(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "line")
	}
	var buf bytes.Buffer
	printBox(&buf, "stdout", strings.Join(lines, "\n"), color.New())
	assert.Contains(t, buf.String(), "... 8 earlier lines")
	assert.Equal(t, maxBoxLines, strings.Count(buf.String(), "│ line"))
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 12, "  ")
	assert.Equal(t, "  one two\n  three four", got)
}
