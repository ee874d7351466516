// Package analyzer is the language-model collaborator: it turns redacted
// snapshots and command results into problems and verdicts.
package analyzer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/helmcode/fixos/pkg/llm"
	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/parser"
	"github.com/helmcode/fixos/pkg/prompts"
	"github.com/helmcode/fixos/pkg/telemetry"
)

const (
	OpDiagnose = "diagnose"
	OpEvaluate = "evaluate"
)

// Error is a failed collaborator call: transport, auth or an unparseable reply.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type DiagnoseRequest struct {
	OSInfo string
	Known  []model.ProblemSummary
	// Snapshot must already be redacted.
	Snapshot string
}

// EvaluateRequest describes one fix attempt. Stdout and Stderr must already
// be redacted.
type EvaluateRequest struct {
	Problem  model.ProblemSummary
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

type Analyzer struct {
	llm llm.LLM
}

func NewWithLLM(l llm.LLM) *Analyzer {
	return &Analyzer{llm: l}
}

// NewWithProvider builds the backend from cfg and wraps it with retry and
// rate limiting.
func NewWithProvider(cfg llm.Config, opts ...llm.RetryOption) (*Analyzer, error) {
	backend, err := llm.NewFactory().CreateLLM(cfg)
	if err != nil {
		return nil, err
	}
	return &Analyzer{llm: llm.NewRetrying(backend, opts...)}, nil
}

func (a *Analyzer) Model() string {
	return a.llm.Model()
}

func (a *Analyzer) chat(ctx context.Context, op, prompt string) (string, error) {
	ctx, span := telemetry.Tracer("").Start(ctx, "fixos.collaborator."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("fixos.llm.model", a.llm.Model()),
		attribute.Int("fixos.prompt.chars", len(prompt)),
	)

	raw, err := a.llm.Chat(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &Error{Op: op, Err: fmt.Errorf("LLM chat: %w", err)}
	}
	span.SetAttributes(attribute.Int("fixos.reply.chars", len(raw)))
	return raw, nil
}

func (a *Analyzer) Diagnose(ctx context.Context, req DiagnoseRequest) (*model.Diagnosis, error) {
	prompt, err := prompts.BuildDiagnosePrompt(req.OSInfo, req.Known, req.Snapshot)
	if err != nil {
		return nil, &Error{Op: OpDiagnose, Err: err}
	}
	raw, err := a.chat(ctx, OpDiagnose, prompt)
	if err != nil {
		return nil, err
	}
	d, err := parser.ParseDiagnosis(raw)
	if err != nil {
		return nil, &Error{Op: OpDiagnose, Err: err}
	}
	return d, nil
}

func (a *Analyzer) Evaluate(ctx context.Context, req EvaluateRequest) (*model.Evaluation, error) {
	prompt, err := prompts.BuildEvaluatePrompt(req.Problem, req.Command, req.ExitCode, req.Stdout, req.Stderr)
	if err != nil {
		return nil, &Error{Op: OpEvaluate, Err: err}
	}
	raw, err := a.chat(ctx, OpEvaluate, prompt)
	if err != nil {
		return nil, err
	}
	ev, err := parser.ParseEvaluation(raw)
	if err != nil {
		return nil, &Error{Op: OpEvaluate, Err: err}
	}
	return ev, nil
}
