package formatter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/helmcode/fixos/pkg/graph"
	"github.com/helmcode/fixos/pkg/model"
)

const maxBoxLines = 12

// PrintResult reports one command outcome as it happens.
func PrintResult(w io.Writer, p model.ProblemSummary, res *model.ExecutionResult) {
	switch {
	case res.DryRun:
		color.New(color.FgCyan).Fprintf(w, "   👁  %s\n", res.Preview)
		return
	case res.Satisfied():
		color.New(color.FgGreen).Fprintf(w, "   ✓ %s %s\n", res.Command, color.HiBlackString("(already satisfied)"))
		return
	case res.TimedOut:
		color.New(color.FgRed).Fprintf(w, "   ⏱  %s timed out after %s\n", res.Command, res.Duration.Round(100*time.Millisecond))
	case !res.Executed:
		color.New(color.FgRed).Fprintf(w, "   ✗ %s could not start: %s\n", res.Command, res.Error)
		return
	case res.ExitCode == 0:
		color.New(color.FgGreen).Fprintf(w, "   ✓ %s %s\n", res.Command, color.HiBlackString("(%s)", res.Duration.Round(time.Millisecond)))
	default:
		color.New(color.FgRed).Fprintf(w, "   ✗ %s exited with %d\n", res.Command, res.ExitCode)
	}
	printBox(w, "stdout", res.Stdout, color.New(color.FgWhite))
	printBox(w, "stderr", res.Stderr, color.New(color.FgYellow))
}

// PrintDiscovery announces a problem found while fixing parent.
func PrintDiscovery(w io.Writer, parent string, p model.ProblemSummary) {
	color.New(color.FgMagenta).Fprintf(w, "   ➕ new problem %s [%s] %s (after %s)\n",
		graph.SeverityIcon(p.Severity), p.ID, p.Description, parent)
}

// PrintProblemHeader introduces the problem about to be attempted.
func PrintProblemHeader(w io.Writer, p model.ProblemSummary) {
	fmt.Fprintln(w)
	getSeverityColor(p.Severity).Fprintf(w, "%s [%s] %s", graph.SeverityIcon(p.Severity), p.ID, p.Description)
	if p.Attempts > 0 {
		fmt.Fprint(w, color.HiBlackString(" (attempt %d)", p.Attempts+1))
	}
	fmt.Fprintln(w)
}

func printBox(w io.Writer, title, body string, c *color.Color) {
	body = strings.TrimRight(body, "\n")
	if strings.TrimSpace(body) == "" {
		return
	}
	lines := strings.Split(body, "\n")
	hidden := 0
	if len(lines) > maxBoxLines {
		hidden = len(lines) - maxBoxLines
		lines = lines[len(lines)-maxBoxLines:]
	}
	fmt.Fprintf(w, "     ┌─ %s\n", title)
	if hidden > 0 {
		fmt.Fprintf(w, "     │ %s\n", color.HiBlackString("... %d earlier lines", hidden))
	}
	for _, l := range lines {
		fmt.Fprintf(w, "     │ %s\n", c.Sprint(l))
	}
	fmt.Fprintln(w, "     └─")
}
