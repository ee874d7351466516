package model

import (
	"errors"
	"fmt"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for scheduling: critical sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// ParseSeverity normalizes collaborator input, defaulting to warning.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return Severity(s)
	}
	return SeverityWarning
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

// Statuses lists every status in reporting order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusResolved, StatusFailed, StatusBlocked, StatusSkipped}

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusBlocked},
	StatusInProgress: {StatusPending, StatusResolved, StatusFailed, StatusSkipped},
}

// CanTransition reports whether from -> to is allowed. Terminal states have no exits.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const DefaultMaxAttempts = 3

type Problem struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description" yaml:"description"`
	Severity    Severity       `json:"severity" yaml:"severity"`
	Status      Status         `json:"status" yaml:"status"`
	FixCommands []string       `json:"fix_commands" yaml:"fix_commands"`
	CausedBy    []string       `json:"caused_by,omitempty" yaml:"caused_by,omitempty"`
	MayCause    []string       `json:"may_cause,omitempty" yaml:"may_cause,omitempty"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	MaxAttempts int            `json:"max_attempts" yaml:"max_attempts"`
	Context     map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// NewProblem returns a pending problem with default attempt ceiling.
func NewProblem(id, description string, severity Severity, fixCommands ...string) *Problem {
	return &Problem{
		ID:          id,
		Description: description,
		Severity:    severity,
		Status:      StatusPending,
		FixCommands: fixCommands,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (p *Problem) IsActionable() bool {
	return p.Status == StatusPending && p.Attempts < p.MaxAttempts
}

func (p *Problem) IsRoot() bool {
	return len(p.CausedBy) == 0
}

// Transition moves the problem to the next status if the state machine allows it.
func (p *Problem) Transition(to Status) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s (problem %s)", ErrInvalidTransition, p.Status, to, p.ID)
	}
	p.Status = to
	return nil
}

type ProblemSummary struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Status      Status   `json:"status" yaml:"status"`
	Attempts    int      `json:"attempts" yaml:"attempts"`
	CausedBy    []string `json:"caused_by" yaml:"caused_by"`
	FixCommands []string `json:"fix_commands" yaml:"fix_commands"`
}

func (p *Problem) ToSummary() ProblemSummary {
	causedBy := p.CausedBy
	if causedBy == nil {
		causedBy = []string{}
	}
	return ProblemSummary{
		ID:          p.ID,
		Description: p.Description,
		Severity:    p.Severity,
		Status:      p.Status,
		Attempts:    p.Attempts,
		CausedBy:    causedBy,
		FixCommands: p.FixCommands,
	}
}

// ProblemSpec is the loose input shape used by problem files and collaborator replies.
type ProblemSpec struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description" yaml:"description"`
	Severity    string         `json:"severity" yaml:"severity"`
	FixCommands []string       `json:"fix_commands" yaml:"fix_commands"`
	CausedBy    []string       `json:"caused_by,omitempty" yaml:"caused_by,omitempty"`
	RelatedTo   []string       `json:"related_to,omitempty" yaml:"related_to,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Context     map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// AlreadySatisfied is the stdout of a result short-circuited by an idempotency probe.
const AlreadySatisfied = "(already satisfied: state is current)"

type ExecutionResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Executed bool          `json:"executed"`
	DryRun   bool          `json:"dry_run,omitempty"`
	Preview  string        `json:"preview,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

func (r *ExecutionResult) Success() bool {
	return r.Executed && r.ExitCode == 0
}

// Satisfied reports an idempotency short-circuit.
func (r *ExecutionResult) Satisfied() bool {
	return !r.Executed && !r.DryRun && r.Error == "" && r.Stdout == AlreadySatisfied
}

// Attempted is true when the command ran, was probed as satisfied, timed out,
// or failed to spawn. Dry-run previews are not attempts.
func (r *ExecutionResult) Attempted() bool {
	return !r.DryRun
}

// Passed is the exit-code view used by the fallback verdict.
func (r *ExecutionResult) Passed() bool {
	return (r.Executed || r.Satisfied()) && r.ExitCode == 0 && !r.TimedOut && r.Error == ""
}

type Verdict string

const (
	VerdictResolved Verdict = "resolved"
	VerdictFailed   Verdict = "failed"
	VerdictPartial  Verdict = "partial"
)

func ParseVerdict(s string) Verdict {
	switch Verdict(s) {
	case VerdictResolved, VerdictPartial:
		return Verdict(s)
	}
	return VerdictFailed
}

type Diagnosis struct {
	NewProblems []ProblemSpec `json:"new_problems"`
	Explanation string        `json:"explanation"`
}

type Evaluation struct {
	Verdict     Verdict       `json:"verdict"`
	Confidence  float64       `json:"confidence"`
	NewProblems []ProblemSpec `json:"new_problems"`
	Explanation string        `json:"explanation"`
}
