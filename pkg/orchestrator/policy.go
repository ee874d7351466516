package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/helmcode/fixos/pkg/model"
)

// Decision is the confirmation policy's answer for one command.
type Decision int

const (
	Approve Decision = iota
	// Decline refuses this command; the problem is skipped.
	Decline
	// SkipAll refuses every remaining command of the problem.
	SkipAll
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Decline:
		return "decline"
	case SkipAll:
		return "skip_all"
	default:
		return "unknown"
	}
}

// ConfirmFunc decides whether command may run for problem. It may block on
// user input; the orchestrator stops waiting when the session deadline
// passes, so implementations should honour ctx where they can.
type ConfirmFunc func(ctx context.Context, problem model.ProblemSummary, command string) Decision

// ProgressFunc is called after every command result, previews included.
type ProgressFunc func(problem model.ProblemSummary, result *model.ExecutionResult)

// DiscoveryFunc is called for every problem the collaborator reports while
// evaluating parent.
type DiscoveryFunc func(parent string, problem model.ProblemSummary)

// ApproveAll approves every command.
func ApproveAll(context.Context, model.ProblemSummary, string) Decision {
	return Approve
}

// AutoApprove approves up to limit commands per session and then answers
// SkipAll. A non-positive limit approves everything.
func AutoApprove(limit int) ConfirmFunc {
	if limit <= 0 {
		return ApproveAll
	}
	var approved atomic.Int64
	return func(context.Context, model.ProblemSummary, string) Decision {
		if approved.Add(1) > int64(limit) {
			return SkipAll
		}
		return Approve
	}
}
