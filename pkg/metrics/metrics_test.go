package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmcode/fixos/pkg/model"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		res  model.ExecutionResult
		want string
	}{
		{model.ExecutionResult{Executed: true}, OutcomeSuccess},
		{model.ExecutionResult{Executed: true, ExitCode: 2}, OutcomeFailure},
		{model.ExecutionResult{Executed: true, ExitCode: -1, TimedOut: true}, OutcomeTimeout},
		{model.ExecutionResult{DryRun: true}, OutcomeDryRun},
		{model.ExecutionResult{Stdout: model.AlreadySatisfied}, OutcomeSatisfied},
		{model.ExecutionResult{ExitCode: -1, Error: "exec: not found"}, OutcomeSpawnError},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(&tt.res))
		})
	}
}

func TestRecorder(t *testing.T) {
	r := New()
	r.ObserveCommand(&model.ExecutionResult{Executed: true, Duration: time.Second})
	r.ObserveCommand(&model.ExecutionResult{Executed: true, ExitCode: 1})
	r.CommandBlocked()
	r.CollaboratorCall("evaluate", nil)
	r.CollaboratorCall("evaluate", errors.New("boom"))
	r.ProblemTransition(model.StatusResolved)
	r.Iteration()
	r.Iteration()
	r.SessionEnded("completed")
	r.Redacted(map[string]int{"hostname": 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.commands.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commands.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commands.WithLabelValues(OutcomeBlocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.collaborator.WithLabelValues("evaluate", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.iterations))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.redactions.WithLabelValues("hostname")))

	path := filepath.Join(t.TempDir(), "fixos.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fixos_orchestrator_sessions_total{reason="completed"} 1`)
	assert.Contains(t, string(data), "fixos_executor_command_duration_seconds_count 2")
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveCommand(&model.ExecutionResult{})
		r.CommandBlocked()
		r.CollaboratorCall("diagnose", nil)
		r.ProblemTransition(model.StatusFailed)
		r.Iteration()
		r.SessionEnded("deadline")
		r.Redacted(map[string]int{"x": 1})
		assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x")))
		assert.Nil(t, r.Registry())
	})
}
