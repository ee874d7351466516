package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/helmcode/fixos/pkg/model"
)

// BuildEvaluatePrompt asks for a verdict on one fix attempt. stdout and
// stderr must already be redacted.
func BuildEvaluatePrompt(problem model.ProblemSummary, command string, exitCode int, stdout, stderr string) (string, error) {
	problemJSON, err := json.Marshal(problem)
	if err != nil {
		return "", fmt.Errorf("marshal problem: %w", err)
	}

	return fmt.Sprintf(`You are a Linux system repair assistant. Evaluate the result of a fix attempt.

Problem that was fixed:
%s

Fix command executed: %s
Return code: %d
Stdout (anonymized): %s
Stderr (anonymized): %s

Based on the output, did the fix succeed? Are there any new problems discovered?

Return ONLY valid JSON:
{
  "verdict": "resolved|failed|partial",
  "confidence": 0.0,
  "new_problems": [
    {
      "id": "p_<short_slug>",
      "description": "...",
      "severity": "critical|warning|info",
      "fix_commands": ["cmd1"],
      "related_to": ["%s"]
    }
  ],
  "explanation": "..."
}`,
		string(problemJSON), command, exitCode,
		Truncate(stdout, MaxStdoutChars), Truncate(stderr, MaxStderrChars), problem.ID), nil
}
