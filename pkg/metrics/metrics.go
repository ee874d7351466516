// Package metrics records session counters on a private Prometheus registry
// so a run can be exported to a node_exporter textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/helmcode/fixos/pkg/model"
)

const namespace = "fixos"

// Command outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeTimeout    = "timeout"
	OutcomeSatisfied  = "satisfied"
	OutcomeDryRun     = "dry_run"
	OutcomeSpawnError = "spawn_error"
	OutcomeBlocked    = "blocked"
)

// Recorder is safe to use as a nil pointer, which records nothing.
type Recorder struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	collaborator    *prometheus.CounterVec
	problems        *prometheus.CounterVec
	iterations      prometheus.Counter
	sessions        *prometheus.CounterVec
	redactions      *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,

		// Labels: outcome (success, failure, timeout, satisfied, dry_run, spawn_error, blocked)
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "commands_total",
			Help:      "Fix commands handled by the executor, by outcome",
		}, []string{"outcome"}),

		commandDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "command_duration_seconds",
			Help:      "Wall-clock duration of executed fix commands",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),

		// Labels: op (diagnose, evaluate), result (ok, error)
		collaborator: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "calls_total",
			Help:      "Language-model collaborator calls",
		}, []string{"op", "result"}),

		problems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "problem_transitions_total",
			Help:      "Problem status transitions, by target status",
		}, []string{"status"}),

		iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "iterations_total",
			Help:      "Main loop iterations",
		}),

		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "sessions_total",
			Help:      "Finished sessions, by stop reason",
		}, []string{"reason"}),

		redactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redact",
			Name:      "replacements_total",
			Help:      "Values masked before text left the process, by category",
		}, []string{"category"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Outcome classifies an execution result.
func Outcome(res *model.ExecutionResult) string {
	switch {
	case res.DryRun:
		return OutcomeDryRun
	case res.Satisfied():
		return OutcomeSatisfied
	case res.TimedOut:
		return OutcomeTimeout
	case !res.Executed:
		return OutcomeSpawnError
	case res.ExitCode == 0:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

func (r *Recorder) ObserveCommand(res *model.ExecutionResult) {
	if r == nil || res == nil {
		return
	}
	r.commands.WithLabelValues(Outcome(res)).Inc()
	if res.Executed {
		r.commandDuration.Observe(res.Duration.Seconds())
	}
}

func (r *Recorder) CommandBlocked() {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(OutcomeBlocked).Inc()
}

func (r *Recorder) CollaboratorCall(op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.collaborator.WithLabelValues(op, result).Inc()
}

func (r *Recorder) ProblemTransition(to model.Status) {
	if r == nil {
		return
	}
	r.problems.WithLabelValues(string(to)).Inc()
}

func (r *Recorder) Iteration() {
	if r == nil {
		return
	}
	r.iterations.Inc()
}

func (r *Recorder) SessionEnded(reason string) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(reason).Inc()
}

func (r *Recorder) Redacted(counts map[string]int) {
	if r == nil {
		return
	}
	for category, n := range counts {
		r.redactions.WithLabelValues(category).Add(float64(n))
	}
}

// WriteTextfile writes every metric in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
