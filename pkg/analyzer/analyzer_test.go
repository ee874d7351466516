package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) Chat(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func (f *fakeLLM) Model() string { return "fake" }

func TestDiagnose(t *testing.T) {
	f := &fakeLLM{reply: "```json\n{\"new_problems\":[{\"id\":\"p_audio\",\"description\":\"no sound\",\"severity\":\"critical\",\"fix_commands\":[\"dnf install sof-firmware\"]}],\"explanation\":\"missing firmware\"}\n```"}
	a := NewWithLLM(f)

	d, err := a.Diagnose(context.Background(), DiagnoseRequest{OSInfo: "Fedora 40", Snapshot: "aplay: no soundcards found"})
	require.NoError(t, err)
	require.Len(t, d.NewProblems, 1)
	assert.Equal(t, "p_audio", d.NewProblems[0].ID)
	assert.Equal(t, "missing firmware", d.Explanation)
	assert.Contains(t, f.prompt, "aplay: no soundcards found")
	assert.Equal(t, "fake", a.Model())
}

func TestEvaluate(t *testing.T) {
	f := &fakeLLM{reply: `Looks good: {"verdict":"partial","confidence":0.92,"explanation":"service up"}`}
	ev, err := NewWithLLM(f).Evaluate(context.Background(), EvaluateRequest{
		Problem:  model.ProblemSummary{ID: "p_pw", Description: "pipewire down"},
		Command:  "systemctl --user restart pipewire",
		ExitCode: 0,
		Stdout:   "",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictPartial, ev.Verdict)
	assert.InDelta(t, 0.92, ev.Confidence, 1e-9)
	assert.Contains(t, f.prompt, `"related_to": ["p_pw"]`)
}

func TestCollaboratorErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		boom := errors.New("connection refused")
		_, err := NewWithLLM(&fakeLLM{err: boom}).Evaluate(context.Background(), EvaluateRequest{})
		var aerr *Error
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, OpEvaluate, aerr.Op)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := NewWithLLM(&fakeLLM{reply: "I am not sure."}).Diagnose(context.Background(), DiagnoseRequest{})
		var aerr *Error
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, OpDiagnose, aerr.Op)
		assert.ErrorIs(t, err, parser.ErrNoJSON)
	})
}
