package prompts

import (
	"strings"
	"testing"

	"github.com/helmcode/fixos/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDiagnosePrompt(t *testing.T) {
	known := []model.ProblemSummary{{ID: "p_audio", Description: "no sound", Severity: model.SeverityCritical, Status: model.StatusPending}}
	snapshot := strings.Repeat("x", MaxDiagnosticsChars+100)

	p, err := BuildDiagnosePrompt("Fedora Linux 40", known, snapshot)
	require.NoError(t, err)
	assert.Contains(t, p, "System info: Fedora Linux 40")
	assert.Contains(t, p, `"id":"p_audio"`)
	assert.Contains(t, p, strings.Repeat("x", MaxDiagnosticsChars))
	assert.NotContains(t, p, strings.Repeat("x", MaxDiagnosticsChars+1))

	p, err = BuildDiagnosePrompt("", nil, "")
	require.NoError(t, err)
	assert.Contains(t, p, "Known problems already in graph: []")
}

func TestBuildEvaluatePrompt(t *testing.T) {
	prob := model.ProblemSummary{ID: "p_pw", Description: "pipewire down", Severity: model.SeverityWarning, Status: model.StatusInProgress, Attempts: 1}
	p, err := BuildEvaluatePrompt(prob, "systemctl --user restart pipewire", 1, strings.Repeat("o", 2000), strings.Repeat("e", 600))
	require.NoError(t, err)
	assert.Contains(t, p, "Fix command executed: systemctl --user restart pipewire")
	assert.Contains(t, p, "Return code: 1")
	assert.Contains(t, p, `"related_to": ["p_pw"]`)
	assert.Contains(t, p, strings.Repeat("o", MaxStdoutChars))
	assert.NotContains(t, p, strings.Repeat("o", MaxStdoutChars+1))
	assert.Contains(t, p, strings.Repeat("e", MaxStderrChars))
	assert.NotContains(t, p, strings.Repeat("e", MaxStderrChars+1))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "zaż", Truncate("zażółć", 3))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
