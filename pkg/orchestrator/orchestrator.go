// Package orchestrator drives remediation: it seeds the problem graph from
// the collaborator, walks it in dependency order, runs fix commands through
// the executor under a confirmation policy and folds verdicts and newly
// discovered problems back into the graph.
//
// The loop is single-threaded. At most one problem is in progress and its
// commands run strictly in sequence.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helmcode/fixos/pkg/analyzer"
	"github.com/helmcode/fixos/pkg/executor"
	"github.com/helmcode/fixos/pkg/graph"
	"github.com/helmcode/fixos/pkg/metrics"
	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/redact"
)

const (
	DefaultMaxIterations       = 50
	DefaultAutoAcceptThreshold = 0.90
	DefaultSessionTimeout      = time.Hour
	DefaultCommandTimeout      = 2 * time.Minute
)

// Collaborator produces problems and verdicts. *analyzer.Analyzer implements it.
type Collaborator interface {
	Diagnose(ctx context.Context, req analyzer.DiagnoseRequest) (*model.Diagnosis, error)
	Evaluate(ctx context.Context, req analyzer.EvaluateRequest) (*model.Evaluation, error)
}

// CommandRunner runs one fix command. *executor.Executor implements it.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (*model.ExecutionResult, error)
}

// Redactor masks identifying data. *redact.Redactor implements it.
type Redactor interface {
	Redact(text string) (string, redact.Report)
}

// Config bounds a session.
type Config struct {
	MaxIterations       int
	AutoAcceptThreshold float64
	SessionTimeout      time.Duration
	CommandTimeout      time.Duration
	// MaxAttempts applies to problems that do not set their own.
	MaxAttempts int
	// OSInfo is passed to the collaborator with every diagnosis.
	OSInfo string
}

// DefaultConfig returns the limits used when no Config is given.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       DefaultMaxIterations,
		AutoAcceptThreshold: DefaultAutoAcceptThreshold,
		SessionTimeout:      DefaultSessionTimeout,
		CommandTimeout:      DefaultCommandTimeout,
		MaxAttempts:         model.DefaultMaxAttempts,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the session limits. Zero fields take their defaults.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRedactor sets how text is scrubbed before reaching the collaborator.
func WithRedactor(r Redactor) Option {
	return func(o *Orchestrator) { o.redactor = r }
}

// WithMetrics records session metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithGraph replaces the empty graph, for example to use a custom priority.
func WithGraph(g *graph.Graph) Option {
	return func(o *Orchestrator) { o.graph = g }
}

// WithDiscoveryHandler is called for each problem found during evaluation.
func WithDiscoveryHandler(fn DiscoveryFunc) Option {
	return func(o *Orchestrator) { o.discovered = fn }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.sessionID = id }
}

// Orchestrator runs one remediation session over a problem graph.
type Orchestrator struct {
	cfg        Config
	graph      *graph.Graph
	runner     CommandRunner
	collab     Collaborator
	redactor   Redactor
	metrics    *metrics.Recorder
	logger     *zap.Logger
	discovered DiscoveryFunc
	sessionID  string
	now        func() time.Time

	mu         sync.Mutex
	started    time.Time
	log        []Entry
	redactions redact.Report
}

// New builds an orchestrator. A nil collaborator makes every verdict fall
// back to the exit-code heuristic.
func New(runner CommandRunner, collab Collaborator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    DefaultConfig(),
		runner: runner,
		collab: collab,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg = withDefaults(o.cfg)
	if o.graph == nil {
		o.graph = graph.New()
	}
	if o.redactor == nil {
		o.redactor = redact.NewFromEnvironment()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	o.logger = o.logger.With(zap.String("session_id", o.sessionID))
	return o
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.AutoAcceptThreshold <= 0 {
		cfg.AutoAcceptThreshold = d.AutoAcceptThreshold
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = d.SessionTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = d.CommandTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	return cfg
}

func (o *Orchestrator) Graph() *graph.Graph { return o.graph }
func (o *Orchestrator) SessionID() string   { return o.sessionID }
func (o *Orchestrator) Config() Config      { return o.cfg }

// Redactions returns the combined report of everything redacted so far.
func (o *Orchestrator) Redactions() redact.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.redactions
}

func (o *Orchestrator) redact(text string) string {
	if text == "" {
		return text
	}
	out, rep := o.redactor.Redact(text)
	o.mu.Lock()
	o.redactions.Merge(rep)
	o.mu.Unlock()
	o.metrics.Redacted(rep.Replacements)
	return out
}

func (o *Orchestrator) markStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started.IsZero() {
		o.started = o.now()
	}
}

// LoadFromSnapshot asks the collaborator for the problems visible in
// snapshot and adds them to the graph. snapshot is serialized to JSON unless
// it is already a string, and is redacted before it leaves the process.
func (o *Orchestrator) LoadFromSnapshot(ctx context.Context, snapshot any) ([]*model.Problem, error) {
	o.markStarted()
	if o.collab == nil {
		return nil, errors.New("diagnose: no collaborator configured")
	}

	var text string
	switch s := snapshot.(type) {
	case string:
		text = s
	case []byte:
		text = string(s)
	default:
		b, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
		text = string(b)
	}

	known := make([]model.ProblemSummary, 0, o.graph.Len())
	for _, p := range o.graph.Problems() {
		known = append(known, p.ToSummary())
	}

	d, err := o.collab.Diagnose(ctx, analyzer.DiagnoseRequest{
		OSInfo:   o.cfg.OSInfo,
		Known:    known,
		Snapshot: o.redact(text),
	})
	o.metrics.CollaboratorCall(analyzer.OpDiagnose, err)
	if err != nil {
		o.record(EventDiagnoseError, map[string]any{"error": err.Error()})
		o.logger.Warn("diagnosis failed", zap.Error(err))
		return nil, err
	}

	added := o.addSpecs(d.NewProblems, "", false)
	o.record(EventDiagnose, map[string]any{"found": len(added), "explanation": d.Explanation})
	o.logger.Info("diagnosis complete", zap.Int("found", len(added)))
	return added, nil
}

// LoadFromList adds problems given directly, without the collaborator.
// Every ProblemSpec needs a description; missing ids are generated.
func (o *Orchestrator) LoadFromList(specs []model.ProblemSpec) ([]*model.Problem, error) {
	o.markStarted()
	for i, s := range specs {
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("problem %d (%q): description is required", i, s.ID)
		}
	}
	return o.addSpecs(specs, "", true), nil
}

func newProblemID() string {
	return "p_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func (o *Orchestrator) fromSpec(s model.ProblemSpec, parent string) *model.Problem {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		id = newProblemID()
	}
	desc := s.Description
	if strings.TrimSpace(desc) == "" {
		desc = "Unknown problem"
	}
	p := model.NewProblem(id, desc, model.ParseSeverity(strings.ToLower(s.Severity)), s.FixCommands...)
	p.MaxAttempts = o.cfg.MaxAttempts
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	p.Context = s.Context

	deps := append(append([]string{}, s.CausedBy...), s.RelatedTo...)
	if parent != "" {
		deps = append(deps, parent)
	}
	for _, d := range deps {
		if d = strings.TrimSpace(d); d != "" && d != id && !contains(p.CausedBy, d) {
			p.CausedBy = append(p.CausedBy, d)
		}
	}
	return p
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// addSpecs inserts new problems, merging ids that already exist. It returns
// the problems that were newly added.
func (o *Orchestrator) addSpecs(specs []model.ProblemSpec, parent string, fromList bool) []*model.Problem {
	var added []*model.Problem
	for _, s := range specs {
		p := o.fromSpec(s, parent)
		merged, err := o.graph.Merge(p)
		if err != nil {
			o.logger.Warn("problem rejected", zap.String("problem_id", p.ID), zap.Error(err))
			continue
		}
		if merged {
			o.record(EventProblemMerged, map[string]any{"problem_id": p.ID, "parent": parent})
			o.logger.Debug("problem merged", zap.String("problem_id", p.ID))
			continue
		}
		added = append(added, p)
		o.record(EventProblemAdded, map[string]any{
			"problem_id":  p.ID,
			"description": p.Description,
			"severity":    string(p.Severity),
			"caused_by":   p.CausedBy,
			"parent":      parent,
			"from_list":   fromList,
		})
		if parent != "" && o.discovered != nil {
			o.discovered(parent, p.ToSummary())
		}
	}
	return added
}

func (o *Orchestrator) transition(p *model.Problem, to model.Status, reason string) {
	from := p.Status
	if err := p.Transition(to); err != nil {
		o.logger.Warn("invalid transition", zap.Error(err))
		return
	}
	o.metrics.ProblemTransition(to)
	payload := map[string]any{"problem_id": p.ID, "from": string(from), "to": string(to), "attempts": p.Attempts}
	if reason != "" {
		payload["reason"] = reason
	}
	o.record(EventTransition, payload)
	o.logger.Debug("problem transition",
		zap.String("problem_id", p.ID), zap.String("from", string(from)), zap.String("to", string(to)), zap.String("reason", reason))
}

// Run drives the graph until every problem is settled, the loop stalls, the
// iteration cap is hit or the session deadline passes. Those stops return a
// summary and a nil error; cancelling ctx returns the summary with ctx's error.
// A nil confirm approves everything.
func (o *Orchestrator) Run(ctx context.Context, confirm ConfirmFunc, progress ProgressFunc) (*SessionSummary, error) {
	o.markStarted()
	if confirm == nil {
		confirm = ApproveAll
	}
	if progress == nil {
		progress = func(model.ProblemSummary, *model.ExecutionResult) {}
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SessionTimeout-o.elapsed())
	defer cancel()

	o.record(EventSessionStart, map[string]any{
		"session_id":      o.sessionID,
		"total":           o.graph.Len(),
		"max_iterations":  o.cfg.MaxIterations,
		"session_timeout": o.cfg.SessionTimeout.Seconds(),
		"unordered":       o.graph.Unordered(),
	})

	iterations := 0
	var reason StopReason
	for reason == "" {
		if reason = stopReason(ctx, sctx); reason != "" {
			break
		}
		if o.graph.AllDone() {
			reason = StopCompleted
			break
		}
		if iterations >= o.cfg.MaxIterations {
			reason = StopIterationCap
			break
		}

		p := o.graph.NextActionable()
		if p == nil {
			blocked := o.graph.BlockUnreachable()
			for _, id := range blocked {
				o.metrics.ProblemTransition(model.StatusBlocked)
				o.record(EventTransition, map[string]any{"problem_id": id, "from": string(model.StatusPending), "to": string(model.StatusBlocked), "reason": "unreachable"})
			}
			reason = StopCompleted
			if len(blocked) > 0 {
				reason = StopStalled
				o.record(EventBlockedSweep, map[string]any{"blocked": blocked})
				o.logger.Warn("no actionable problem left, blocked unreachable problems", zap.Strings("blocked", blocked))
			}
			break
		}

		iterations++
		o.metrics.Iteration()
		o.attempt(ctx, sctx, p, confirm, progress)
	}

	if reason == StopDeadline || reason == StopCancelled {
		o.logger.Warn("session stopped early", zap.String("reason", string(reason)))
	}
	o.metrics.SessionEnded(string(reason))
	o.record(EventSessionEnd, map[string]any{"reason": string(reason), "iterations": iterations})
	sum := o.summary(iterations, reason)
	o.logger.Info("session finished",
		zap.String("reason", string(reason)), zap.Int("iterations", iterations),
		zap.Int("resolved", sum.Count(model.StatusResolved)), zap.Int("failed", sum.Count(model.StatusFailed)))

	if reason == StopCancelled {
		return sum, ctx.Err()
	}
	return sum, nil
}

func stopReason(parent, session context.Context) StopReason {
	switch {
	case parent.Err() != nil:
		return StopCancelled
	case session.Err() != nil:
		return StopDeadline
	}
	return ""
}

// Result is delivered by RunAsync.
type Result struct {
	Summary *SessionSummary
	Err     error
}

// RunAsync runs the loop on its own goroutine. The graph must not be touched
// until the result arrives.
func (o *Orchestrator) RunAsync(ctx context.Context, confirm ConfirmFunc, progress ProgressFunc) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		sum, err := o.Run(ctx, confirm, progress)
		ch <- Result{Summary: sum, Err: err}
		close(ch)
	}()
	return ch
}

// ask waits for the confirmation policy but gives up when the session ends.
func (o *Orchestrator) ask(sctx context.Context, confirm ConfirmFunc, p *model.Problem, command string) (Decision, error) {
	ch := make(chan Decision, 1)
	sum := p.ToSummary()
	go func() { ch <- confirm(sctx, sum, command) }()
	select {
	case d := <-ch:
		return d, nil
	case <-sctx.Done():
		return Decline, sctx.Err()
	}
}

// attempt runs one pass over p's fix commands and applies the verdict.
func (o *Orchestrator) attempt(ctx, sctx context.Context, p *model.Problem, confirm ConfirmFunc, progress ProgressFunc) {
	o.transition(p, model.StatusInProgress, "")
	p.Attempts++

	if len(p.FixCommands) == 0 {
		o.transition(p, model.StatusFailed, "no fix commands")
		return
	}

	var results []*model.ExecutionResult
	for _, command := range p.FixCommands {
		if sctx.Err() != nil {
			o.interrupt(p, results)
			return
		}
		decision, err := o.ask(sctx, confirm, p, command)
		if err != nil {
			o.record(EventConfirm, map[string]any{"problem_id": p.ID, "command": command, "decision": "abandoned"})
			o.interrupt(p, results)
			return
		}
		o.record(EventConfirm, map[string]any{"problem_id": p.ID, "command": command, "decision": decision.String()})
		if decision != Approve {
			o.transition(p, model.StatusSkipped, "user "+decision.String())
			return
		}

		// Commands are bounded by their own timeout, not the session deadline.
		res, err := o.runner.Run(ctx, command, o.cfg.CommandTimeout)
		if executor.IsDangerousError(err) {
			o.metrics.CommandBlocked()
			o.record(EventExecuteBlocked, map[string]any{"problem_id": p.ID, "command": command, "reason": err.Error()})
			o.logger.Warn("dangerous command blocked", zap.String("problem_id", p.ID), zap.String("command", command), zap.Error(err))
			o.transition(p, model.StatusFailed, "dangerous command")
			return
		}
		if res == nil {
			// Only cancellation of ctx gets here; the loop stops next iteration.
			o.record(EventExecuteError, map[string]any{"problem_id": p.ID, "command": command, "error": errString(err)})
			o.interrupt(p, results)
			return
		}

		results = append(results, res)
		o.metrics.ObserveCommand(res)
		o.record(EventExecute, executePayload(p.ID, res))
		o.logger.Info("command finished",
			zap.String("problem_id", p.ID), zap.String("command", res.Command),
			zap.Int("exit_code", res.ExitCode), zap.Bool("executed", res.Executed), zap.Bool("timed_out", res.TimedOut))
		progress(p.ToSummary(), res)

		if err != nil && !executor.IsTimeoutError(err) {
			o.interrupt(p, results)
			return
		}
		if res.DryRun {
			continue
		}
		if !res.Passed() {
			break
		}
	}

	last := lastAttempted(results)
	if last == nil {
		o.transition(p, model.StatusSkipped, "dry run")
		return
	}
	o.settle(sctx, p, last)
}

// interrupt returns p to pending when the session ends mid-problem. The
// attempt is refunded if no command actually ran.
func (o *Orchestrator) interrupt(p *model.Problem, results []*model.ExecutionResult) {
	if lastAttempted(results) == nil && p.Attempts > 0 {
		p.Attempts--
	}
	o.transition(p, model.StatusPending, "interrupted")
}

func lastAttempted(results []*model.ExecutionResult) *model.ExecutionResult {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Attempted() {
			return results[i]
		}
	}
	return nil
}

func executePayload(problemID string, res *model.ExecutionResult) map[string]any {
	payload := map[string]any{
		"problem_id": problemID,
		"command":    res.Command,
		"exit_code":  res.ExitCode,
		"executed":   res.Executed,
		"duration":   res.Duration.Seconds(),
	}
	if res.DryRun {
		payload["dry_run"] = true
		payload["preview"] = res.Preview
	}
	if res.Satisfied() {
		payload["satisfied"] = true
	}
	if res.TimedOut {
		payload["timed_out"] = true
	}
	if res.Error != "" {
		payload["error"] = res.Error
	}
	return payload
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// settle asks the collaborator for a verdict on the last attempted command
// and applies it. Collaborator failures fall back to the exit code.
func (o *Orchestrator) settle(sctx context.Context, p *model.Problem, last *model.ExecutionResult) {
	ev, err := o.evaluate(sctx, p, last)
	if err != nil {
		o.record(EventEvaluateError, map[string]any{"problem_id": p.ID, "error": err.Error()})
		o.logger.Warn("evaluation failed, using exit code", zap.String("problem_id", p.ID), zap.Error(err))
		ev = fallbackVerdict(last)
		o.record(EventFallbackVerdict, map[string]any{"problem_id": p.ID, "verdict": string(ev.Verdict), "exit_code": last.ExitCode})
	} else {
		o.record(EventEvaluate, map[string]any{
			"problem_id":  p.ID,
			"verdict":     string(ev.Verdict),
			"confidence":  ev.Confidence,
			"explanation": ev.Explanation,
			"new":         len(ev.NewProblems),
		})
	}

	switch {
	case ev.Verdict == model.VerdictResolved,
		ev.Verdict == model.VerdictPartial && ev.Confidence >= o.cfg.AutoAcceptThreshold:
		o.transition(p, model.StatusResolved, string(ev.Verdict))
	case p.Attempts >= p.MaxAttempts:
		o.transition(p, model.StatusFailed, "attempts exhausted")
	default:
		o.transition(p, model.StatusPending, "retry")
	}

	if len(ev.NewProblems) > 0 {
		o.addSpecs(ev.NewProblems, p.ID, false)
	}
}

func (o *Orchestrator) evaluate(sctx context.Context, p *model.Problem, last *model.ExecutionResult) (*model.Evaluation, error) {
	if o.collab == nil {
		return nil, errors.New("evaluate: no collaborator configured")
	}
	if err := sctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	ev, err := o.collab.Evaluate(sctx, analyzer.EvaluateRequest{
		Problem:  p.ToSummary(),
		Command:  last.Command,
		ExitCode: last.ExitCode,
		Stdout:   o.redact(last.Stdout),
		Stderr:   o.redact(last.Stderr),
	})
	o.metrics.CollaboratorCall(analyzer.OpEvaluate, err)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// fallbackVerdict resolves on a passing exit code and fails otherwise.
func fallbackVerdict(res *model.ExecutionResult) *model.Evaluation {
	if res.Passed() {
		return &model.Evaluation{Verdict: model.VerdictResolved, Confidence: 1}
	}
	return &model.Evaluation{Verdict: model.VerdictFailed, Confidence: 1}
}
