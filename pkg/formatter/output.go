package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/helmcode/fixos/pkg/graph"
	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/orchestrator"
)

// Report is the machine-readable record of a fix session.
type Report struct {
	Summary  *orchestrator.SessionSummary `json:"summary" yaml:"summary"`
	Problems []model.ProblemSummary       `json:"problems" yaml:"problems"`
	Log      []orchestrator.Entry         `json:"log" yaml:"log"`
}

// NewReport snapshots the orchestrator's graph and log.
func NewReport(o *orchestrator.Orchestrator, sum *orchestrator.SessionSummary) *Report {
	rep := &Report{Summary: sum, Log: o.Log(), Problems: []model.ProblemSummary{}}
	for _, id := range o.Graph().ExecutionOrder() {
		if p, ok := o.Graph().Get(id); ok {
			rep.Problems = append(rep.Problems, p.ToSummary())
		}
	}
	return rep
}

// DisplayReport renders rep as human, json or yaml.
func DisplayReport(w io.Writer, rep *Report, g *graph.Graph, format string) error {
	switch format {
	case "json":
		return displayJSON(w, rep)
	case "yaml":
		return displayYAML(w, rep)
	case "human", "":
		displaySummary(w, rep.Summary, g)
		return nil
	}
	return fmt.Errorf("unknown output format %q (human, json, yaml)", format)
}

// WriteReportFile writes rep as indented JSON.
func WriteReportFile(path string, rep *Report) error {
	output, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(output, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func displayJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(output))
	return nil
}

func displayYAML(w io.Writer, v any) error {
	output, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprint(w, string(output))
	return nil
}

var statusOrder = []model.Status{
	model.StatusResolved,
	model.StatusFailed,
	model.StatusSkipped,
	model.StatusBlocked,
	model.StatusPending,
	model.StatusInProgress,
}

func displaySummary(w io.Writer, sum *orchestrator.SessionSummary, g *graph.Graph) {
	cyan := color.New(color.FgCyan, color.Bold)
	white := color.New(color.FgWhite, color.Bold)

	fmt.Fprintln(w)
	cyan.Fprintln(w, "📋 SESSION SUMMARY")
	fmt.Fprintf(w, "   Problems:   %d\n", sum.Total)
	for _, s := range statusOrder {
		if n := sum.Count(s); n > 0 {
			statusColor(s).Fprintf(w, "   %s %-10s %d\n", graph.StatusIcon(s), string(s)+":", n)
		}
	}
	fmt.Fprintf(w, "   Iterations: %d\n", sum.Iterations)
	fmt.Fprintf(w, "   Elapsed:    %.1fs\n", sum.ElapsedSeconds)
	stopColor(sum.StopReason).Fprintf(w, "   Stopped:    %s\n", describeStop(sum.StopReason))
	if sum.Unordered > 0 {
		color.New(color.FgYellow).Fprintf(w, "   ⚠️  %d problems are part of a dependency cycle\n", sum.Unordered)
	}

	if g != nil && g.Len() > 0 {
		fmt.Fprintln(w)
		white.Fprintln(w, "🌳 PROBLEM TREE:")
		fmt.Fprintln(w, ColorTree(g))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("─", 80))
	fmt.Fprintf(w, "💡 %s\n", color.HiBlackString("Run with -o json or -o yaml for machine-readable output"))
}

func describeStop(r orchestrator.StopReason) string {
	switch r {
	case orchestrator.StopCompleted:
		return "all problems settled"
	case orchestrator.StopStalled:
		return "no actionable problems left (unreachable problems blocked)"
	case orchestrator.StopIterationCap:
		return "iteration limit reached"
	case orchestrator.StopDeadline:
		return "session timeout reached"
	case orchestrator.StopCancelled:
		return "interrupted"
	}
	return string(r)
}

func stopColor(r orchestrator.StopReason) *color.Color {
	if r == orchestrator.StopCompleted {
		return color.New(color.FgGreen)
	}
	return color.New(color.FgYellow)
}

func statusColor(s model.Status) *color.Color {
	switch s {
	case model.StatusResolved:
		return color.New(color.FgGreen)
	case model.StatusFailed:
		return color.New(color.FgRed)
	case model.StatusBlocked, model.StatusSkipped:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func getSeverityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case model.SeverityWarning:
		return color.New(color.FgYellow)
	case model.SeverityInfo:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}

// ColorTree is graph.RenderTree with severity colours.
func ColorTree(g *graph.Graph) string {
	nodes := g.Walk()
	if len(nodes) == 0 {
		return "(no problems)"
	}
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte('\n')
		}
		p := n.Problem
		if n.Orphaned {
			fmt.Fprintf(&b, "  ◦ [%s] %s %s", p.ID, p.Description, color.HiBlackString("(orphaned)"))
			continue
		}
		prefix := "  " + strings.Repeat("  ", n.Depth)
		if n.Depth > 0 {
			prefix += "└─ "
		}
		fmt.Fprintf(&b, "%s%s [%s] %s %s", prefix, graph.SeverityIcon(p.Severity), p.ID,
			getSeverityColor(p.Severity).Sprint(p.Description), graph.StatusIcon(p.Status))
	}
	return b.String()
}

// Plan is the dry view of a graph: order and per-problem commands.
type Plan struct {
	ExecutionOrder []string               `json:"execution_order" yaml:"execution_order"`
	Unordered      int                    `json:"unordered,omitempty" yaml:"unordered,omitempty"`
	Problems       []model.ProblemSummary `json:"problems" yaml:"problems"`
}

func NewPlan(g *graph.Graph) *Plan {
	plan := &Plan{ExecutionOrder: g.ExecutionOrder(), Unordered: g.Unordered(), Problems: []model.ProblemSummary{}}
	for _, id := range plan.ExecutionOrder {
		if p, ok := g.Get(id); ok {
			plan.Problems = append(plan.Problems, p.ToSummary())
		}
	}
	return plan
}

// DisplayPlan renders the execution order and tree without running anything.
func DisplayPlan(w io.Writer, g *graph.Graph, format string) error {
	plan := NewPlan(g)
	switch format {
	case "json":
		return displayJSON(w, plan)
	case "yaml":
		return displayYAML(w, plan)
	case "human", "":
	default:
		return fmt.Errorf("unknown output format %q (human, json, yaml)", format)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(w)
	cyan.Fprintln(w, "🗺️  EXECUTION PLAN:")
	for i, p := range plan.Problems {
		fmt.Fprintf(w, "   %d. %s [%s]\n", i+1, graph.SeverityIcon(p.Severity), p.ID)
		fmt.Fprintln(w, wrapText(p.Description, 80, "      "))
		if len(p.CausedBy) > 0 {
			fmt.Fprintf(w, "      After: %s\n", strings.Join(p.CausedBy, ", "))
		}
		for _, c := range p.FixCommands {
			fmt.Fprintf(w, "      $ %s\n", color.CyanString(c))
		}
		if len(p.FixCommands) == 0 {
			fmt.Fprintf(w, "      %s\n", color.HiBlackString("(no fix commands)"))
		}
	}
	if plan.Unordered > 0 {
		color.New(color.FgYellow).Fprintf(w, "   ⚠️  %d problems are part of a dependency cycle\n", plan.Unordered)
	}
	fmt.Fprintln(w)
	color.New(color.FgWhite, color.Bold).Fprintln(w, "🌳 PROBLEM TREE:")
	fmt.Fprintln(w, ColorTree(g))
	return nil
}

// DisplaySnapshot renders a diagnostics snapshot. Human output lists each
// module's keys with the first line of each value.
func DisplaySnapshot(w io.Writer, snapshot any, modules map[string]map[string]any, format string) error {
	switch format {
	case "json":
		return displayJSON(w, snapshot)
	case "yaml":
		return displayYAML(w, snapshot)
	case "human", "":
	default:
		return fmt.Errorf("unknown output format %q (human, json, yaml)", format)
	}

	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(w)
		color.New(color.FgCyan, color.Bold).Fprintf(w, "📦 %s\n", strings.ToUpper(name))
		data := modules[name]
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   %-24s %s\n", k+":", firstLine(fmt.Sprint(data[k]), 72))
		}
	}
	return nil
}

func firstLine(s string, max int) string {
	line, _, more := strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(line); len(r) > max {
		return string(r[:max]) + "…"
	}
	if more {
		return line + " …"
	}
	return line
}

func wrapText(text string, width int, indent string) string {
	var result strings.Builder
	lines := strings.Split(text, "\n")

	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			result.WriteString("\n")
			continue
		}

		currentLine := indent
		for _, word := range words {
			if len(currentLine)+len(word)+1 > width {
				result.WriteString(currentLine + "\n")
				currentLine = indent + word
			} else if currentLine == indent {
				currentLine += word
			} else {
				currentLine += " " + word
			}
		}

		if currentLine != indent {
			result.WriteString(currentLine + "\n")
		}
	}

	return strings.TrimSuffix(result.String(), "\n")
}
