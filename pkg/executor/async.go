package executor

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/helmcode/fixos/pkg/model"
	"go.uber.org/zap"
)

// Execution is a command started by Start.
type Execution struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	result *model.ExecutionResult
	err    error
}

// Done is closed once the result is available.
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Cancel kills the process, if still running. Wait then reports the
// cancellation.
func (x *Execution) Cancel() {
	x.cancel()
}

// Wait blocks until the command completes or ctx ends. When ctx ends first
// the process is killed and ctx's error is returned.
func (x *Execution) Wait(ctx context.Context) (*model.ExecutionResult, error) {
	select {
	case <-x.done:
		return x.result, x.err
	case <-ctx.Done():
		x.cancel()
		<-x.done
		return x.result, ctx.Err()
	}
}

func (x *Execution) complete(res *model.ExecutionResult, err error) {
	x.once.Do(func() {
		x.result, x.err = res, err
		close(x.done)
	})
}

// Start launches command without blocking. The danger check runs before
// Start returns, so a dangerous command never produces an Execution. Timeout
// enforcement uses a timer instead of a context deadline.
func (e *Executor) Start(ctx context.Context, command string, timeout time.Duration) (*Execution, error) {
	resolved, early, err := e.prepare(command)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	x := &Execution{done: make(chan struct{}), cancel: cancel}
	if early != nil {
		x.complete(early, nil)
		return x, nil
	}
	if timeout <= 0 {
		timeout = e.timeout
	}

	go func() {
		defer cancel()
		if res := e.satisfied(runCtx, resolved); res != nil {
			x.complete(res, nil)
			return
		}
		x.complete(e.await(ctx, runCtx, resolved, timeout))
	}()
	return x, nil
}

func (e *Executor) await(parent, runCtx context.Context, resolved string, timeout time.Duration) (*model.ExecutionResult, error) {
	// Not bound to runCtx: cancellation is delivered through the select
	// below so that a timeout and a cancel are distinguishable.
	cmd := exec.Command(e.shell[0], append(append([]string{}, e.shell[1:]...), resolved)...)
	configureCommandProcess(cmd)
	stdout := newBoundedBuffer(e.maxOutput)
	stderr := newBoundedBuffer(e.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	res := &model.ExecutionResult{Command: resolved}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.ExitCode = -1
		res.Error = err.Error()
		e.logger.Warn("command could not be started", zap.String("command", resolved), zap.Error(err))
		return res, nil
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var runErr error
	deadline, cancelled := false, false
	select {
	case runErr = <-waitCh:
	case <-timer.C:
		deadline = true
		terminateCommandProcess(cmd)
		runErr = <-waitCh
	case <-runCtx.Done():
		cancelled = true
		terminateCommandProcess(cmd)
		runErr = <-waitCh
	}

	res.Stdout = strings.TrimSpace(stdout.String())
	res.Stderr = strings.TrimSpace(stderr.String())
	res.Duration = time.Since(start)

	switch {
	case cancelled:
		res.Executed = true
		res.ExitCode = -1
		res.Error = context.Canceled.Error()
		if parent.Err() != nil {
			res.Error = parent.Err().Error()
			return res, parent.Err()
		}
		return res, context.Canceled
	case deadline:
		res.Executed = true
		res.ExitCode = -1
		res.TimedOut = true
		e.logger.Warn("command timed out", zap.String("command", resolved), zap.Duration("timeout", timeout))
		return res, &TimeoutError{Command: resolved, Timeout: timeout}
	}
	return e.finish(parent, runCtx, cmd, res, runErr, timeout)
}
