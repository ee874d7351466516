package orchestrator

import (
	"time"

	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/redact"
)

// Session log events.
const (
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
	EventDiagnose        = "diagnose"
	EventDiagnoseError   = "diagnose_error"
	EventProblemAdded    = "problem_added"
	EventProblemMerged   = "problem_merged"
	EventTransition      = "transition"
	EventConfirm         = "confirm"
	EventExecute         = "execute"
	EventExecuteBlocked  = "execute_blocked"
	EventExecuteError    = "execute_error"
	EventEvaluate        = "evaluate"
	EventEvaluateError   = "evaluate_error"
	EventFallbackVerdict = "fallback_verdict"
	EventBlockedSweep    = "blocked_sweep"
)

// Entry is one session log record. Elapsed is seconds since session start.
type Entry struct {
	Event   string         `json:"event" yaml:"event"`
	Elapsed float64        `json:"elapsed" yaml:"elapsed"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// StopReason says why Run returned.
type StopReason string

const (
	StopCompleted    StopReason = "completed"
	StopStalled      StopReason = "stalled"
	StopIterationCap StopReason = "iteration_cap"
	StopDeadline     StopReason = "deadline"
	StopCancelled    StopReason = "cancelled"
)

// SessionSummary is the outcome of Run.
type SessionSummary struct {
	SessionID      string                    `json:"session_id" yaml:"session_id"`
	Total          int                       `json:"total" yaml:"total"`
	ByStatus       map[model.Status][]string `json:"by_status" yaml:"by_status"`
	ExecutionOrder []string                  `json:"execution_order" yaml:"execution_order"`
	Unordered      int                       `json:"unordered,omitempty" yaml:"unordered,omitempty"`
	ElapsedSeconds float64                   `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	LogEntries     int                       `json:"log_entries" yaml:"log_entries"`
	Iterations     int                       `json:"iterations" yaml:"iterations"`
	StopReason     StopReason                `json:"stop_reason" yaml:"stop_reason"`
	Redactions     redact.Report             `json:"redactions" yaml:"redactions"`
}

// Count returns the number of problems in status s.
func (s *SessionSummary) Count(status model.Status) int {
	return len(s.ByStatus[status])
}

func (o *Orchestrator) record(event string, payload map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log = append(o.log, Entry{
		Event:   event,
		Elapsed: o.elapsed().Seconds(),
		Payload: payload,
	})
}

func (o *Orchestrator) elapsed() time.Duration {
	if o.started.IsZero() {
		return 0
	}
	return o.now().Sub(o.started)
}

// Log returns a copy of the session log.
func (o *Orchestrator) Log() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Entry(nil), o.log...)
}

func (o *Orchestrator) summary(iterations int, reason StopReason) *SessionSummary {
	gs := o.graph.Summary()
	o.mu.Lock()
	entries := len(o.log)
	reds := o.redactions
	o.mu.Unlock()
	return &SessionSummary{
		SessionID:      o.sessionID,
		Total:          gs.Total,
		ByStatus:       gs.ByStatus,
		ExecutionOrder: gs.ExecutionOrder,
		Unordered:      gs.Unordered,
		ElapsedSeconds: o.elapsed().Seconds(),
		LogEntries:     entries,
		Iterations:     iterations,
		StopReason:     reason,
		Redactions:     reds,
	}
}
