package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/helmcode/fixos/pkg/model"
)

// Size limits for text embedded in prompts.
const (
	MaxDiagnosticsChars = 6000
	MaxStdoutChars      = 1500
	MaxStderrChars      = 500
)

// BuildDiagnosePrompt asks for the problems visible in an already redacted snapshot.
func BuildDiagnosePrompt(osInfo string, known []model.ProblemSummary, snapshot string) (string, error) {
	if known == nil {
		known = []model.ProblemSummary{}
	}
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return "", fmt.Errorf("marshal known problems: %w", err)
	}

	return fmt.Sprintf(`You are a Linux system repair assistant. Analyze the diagnostic data and identify problems.

System info: %s
Known problems already in graph: %s
Diagnostic data (anonymized):
%s

Return ONLY valid JSON (no markdown, no explanation outside JSON):
{
  "new_problems": [
    {
      "id": "p_<short_slug>",
      "description": "...",
      "severity": "critical|warning|info",
      "fix_commands": ["cmd1", "cmd2"],
      "related_to": []
    }
  ],
  "explanation": "..."
}

Use "related_to" to list ids of problems that must be fixed first. Do not repeat known problems.
Prefer non-interactive commands (e.g. "dnf install -y"). Never suggest destructive commands.`,
		osInfo, string(knownJSON), Truncate(snapshot, MaxDiagnosticsChars)), nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
