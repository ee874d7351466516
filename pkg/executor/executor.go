// Package executor validates, elevates and runs remediation commands.
//
// Every entry point runs the danger check first, then elevation, then the
// dry-run short-circuit, then the idempotency probe. Run blocks until the
// command exits; Start returns an Execution that can be awaited or cancelled.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/helmcode/fixos/pkg/model"
	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultProbeTimeout = 5 * time.Second
	DefaultMaxOutput    = 64 * 1024
)

// DangerousCommandError is returned when a command matches the danger table.
// Nothing is run.
type DangerousCommandError struct {
	Command string
	Reason  string
}

func (e *DangerousCommandError) Error() string {
	return fmt.Sprintf("dangerous command %q: %s", e.Command, e.Reason)
}

// TimeoutError is returned with the partial result of a command that ran
// past its timeout.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// IsDangerousError reports whether err wraps a *DangerousCommandError.
func IsDangerousError(err error) bool {
	var d *DangerousCommandError
	return errors.As(err, &d)
}

// IsTimeoutError reports whether err wraps a *TimeoutError.
func IsTimeoutError(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout sets the default per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithDryRun makes Run and Start return previews instead of executing.
func WithDryRun(dryRun bool) Option {
	return func(e *Executor) { e.dryRun = dryRun }
}

// WithProbeTimeout sets the default timeout of Probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Executor) { e.probeTimeout = d }
}

// WithMaxOutput caps the bytes kept from each of stdout and stderr.
func WithMaxOutput(n int) Option {
	return func(e *Executor) { e.maxOutput = n }
}

// WithShell overrides the interpreter, e.g. []string{"/bin/bash", "-c"}.
func WithShell(argv ...string) Option {
	return func(e *Executor) { e.shell = argv }
}

// WithLogger sets the logger. nil means a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// Executor holds only immutable settings and is safe for concurrent use.
type Executor struct {
	timeout      time.Duration
	probeTimeout time.Duration
	dryRun       bool
	maxOutput    int
	shell        []string
	logger       *zap.Logger
}

// New creates an executor with the given options applied over the defaults.
func New(opts ...Option) *Executor {
	e := &Executor{
		timeout:      DefaultTimeout,
		probeTimeout: DefaultProbeTimeout,
		maxOutput:    DefaultMaxOutput,
		shell:        defaultShell(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

func defaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"/bin/sh", "-c"}
}

func (e *Executor) DryRun() bool           { return e.dryRun }
func (e *Executor) Timeout() time.Duration { return e.timeout }

// prepare applies the danger check, elevation and dry-run. A non-nil result
// means the command must not be spawned.
func (e *Executor) prepare(command string) (string, *model.ExecutionResult, error) {
	if reason, bad := IsDangerous(command); bad {
		e.logger.Warn("blocked dangerous command", zap.String("command", command), zap.String("reason", reason))
		return "", nil, &DangerousCommandError{Command: command, Reason: reason}
	}
	resolved := Elevate(command)
	if e.dryRun {
		return resolved, &model.ExecutionResult{
			Command: resolved,
			DryRun:  true,
			Preview: "[DRY-RUN] " + resolved,
		}, nil
	}
	return resolved, nil, nil
}

// satisfied runs the idempotency probe, if one applies, and returns a
// synthetic result when the probe passes. Probe failures are ignored.
func (e *Executor) satisfied(ctx context.Context, command string) *model.ExecutionResult {
	probe, ok := CheckIdempotent(command)
	if !ok {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	cmd := e.command(probeCtx, probe)
	if err := cmd.Run(); err != nil {
		e.logger.Debug("idempotency probe did not pass", zap.String("probe", probe), zap.Error(err))
		return nil
	}
	e.logger.Info("command already satisfied", zap.String("command", command), zap.String("probe", probe))
	return &model.ExecutionResult{Command: command, Stdout: model.AlreadySatisfied}
}

func (e *Executor) command(ctx context.Context, command string) *exec.Cmd {
	argv := append(append([]string{}, e.shell[1:]...), command)
	cmd := exec.CommandContext(ctx, e.shell[0], argv...)
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// Run executes command synchronously. A zero timeout uses the executor
// default. Exceeding the timeout returns the partial result together with
// a *TimeoutError; a process that cannot be spawned yields a result with
// Executed=false and no error.
func (e *Executor) Run(ctx context.Context, command string, timeout time.Duration) (*model.ExecutionResult, error) {
	resolved, early, err := e.prepare(command)
	if err != nil || early != nil {
		return early, err
	}
	if res := e.satisfied(ctx, resolved); res != nil {
		return res, nil
	}
	if timeout <= 0 {
		timeout = e.timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := e.command(runCtx, resolved)
	stdout := newBoundedBuffer(e.maxOutput)
	stderr := newBoundedBuffer(e.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger.Debug("running command", zap.String("command", resolved), zap.Duration("timeout", timeout))
	start := time.Now()
	runErr := cmd.Run()

	res := &model.ExecutionResult{
		Command:  resolved,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	return e.finish(ctx, runCtx, cmd, res, runErr, timeout)
}

// finish classifies the outcome of a process run.
func (e *Executor) finish(parent, runCtx context.Context, cmd *exec.Cmd, res *model.ExecutionResult, runErr error, timeout time.Duration) (*model.ExecutionResult, error) {
	res.Executed = cmd.Process != nil
	if parent.Err() != nil {
		res.ExitCode = -1
		res.Error = parent.Err().Error()
		return res, fmt.Errorf("command %q cancelled: %w", res.Command, parent.Err())
	}
	if !res.Executed {
		res.ExitCode = -1
		res.Error = runErr.Error()
		e.logger.Warn("command could not be started", zap.String("command", res.Command), zap.Error(runErr))
		return res, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		res.TimedOut = true
		e.logger.Warn("command timed out", zap.String("command", res.Command), zap.Duration("timeout", timeout))
		return res, &TimeoutError{Command: res.Command, Timeout: timeout}
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = 0
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Error = runErr.Error()
	}
	e.logger.Debug("command finished", zap.String("command", res.Command), zap.Int("exit_code", res.ExitCode), zap.Duration("duration", res.Duration))
	return res, nil
}

// Probe runs a read-only diagnostic command and returns its trimmed stdout.
// The danger check applies; elevation and dry-run do not.
func (e *Executor) Probe(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if reason, bad := IsDangerous(command); bad {
		return "", &DangerousCommandError{Command: command, Reason: reason}
	}
	if timeout <= 0 {
		timeout = e.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := e.command(probeCtx, command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			return strings.TrimSpace(stdout.String()), &TimeoutError{Command: command, Timeout: timeout}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return strings.TrimSpace(stdout.String()), fmt.Errorf("probe %q: %w", command, err)
		}
		return strings.TrimSpace(stdout.String()), fmt.Errorf("probe %q: %w: %s", command, err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
