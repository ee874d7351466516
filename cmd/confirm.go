package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/helmcode/fixos/pkg/formatter"
	"github.com/helmcode/fixos/pkg/model"
	"github.com/helmcode/fixos/pkg/orchestrator"
)

// parseDecision maps a typed answer to a decision. Enter approves.
func parseDecision(answer string) orchestrator.Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return orchestrator.Approve
	case "s", "skip", "skip all":
		return orchestrator.SkipAll
	}
	return orchestrator.Decline
}

// keyReader reads one answer at a time. On a terminal it reads a single
// key in raw mode; otherwise it reads a line. A read abandoned through ctx
// keeps running and its answer goes to the next call.
type keyReader struct {
	mu      sync.Mutex
	in      *os.File
	line    *bufio.Reader
	pending chan keyResult
}

type keyResult struct {
	answer string
	err    error
}

func newKeyReader(in *os.File) *keyReader {
	return &keyReader{in: in, line: bufio.NewReader(in)}
}

// read waits for an answer or ctx. Raw mode is restored before it returns
// in both cases.
func (k *keyReader) read(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	fd := int(k.in.Fd())
	raw := false
	if term.IsTerminal(fd) {
		if state, err := term.MakeRaw(fd); err == nil {
			defer term.Restore(fd, state)
			raw = true
		}
	}

	if k.pending == nil {
		ch := make(chan keyResult, 1)
		k.pending = ch
		go func() {
			answer, err := k.next(raw)
			ch <- keyResult{answer, err}
		}()
	}

	select {
	case r := <-k.pending:
		k.pending = nil
		return r.answer, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (k *keyReader) next(raw bool) (string, error) {
	if !raw {
		return readLine(k.line)
	}
	buf := make([]byte, 1)
	if _, err := k.in.Read(buf); err != nil {
		return "", err
	}
	switch buf[0] {
	case '\r', '\n':
		return "", nil
	case 3, 4: // Ctrl+C, Ctrl+D
		return "n", nil
	}
	return string(buf), nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// interactiveConfirm prints the problem and command, then waits for y/n/s.
// Read errors, including EOF and the end of ctx, decline.
func interactiveConfirm(keys *keyReader, out io.Writer) orchestrator.ConfirmFunc {
	return func(ctx context.Context, p model.ProblemSummary, command string) orchestrator.Decision {
		formatter.PrintProblemHeader(out, p)
		fmt.Fprintf(out, "   $ %s\n", color.CyanString(command))
		fmt.Fprintf(out, "   Run? %s / %s / %s: ",
			color.GreenString("[Y]es"), color.RedString("[n]o"), color.YellowString("[s]kip all"))
		answer, err := keys.read(ctx)
		fmt.Fprintln(out, answer)
		if err != nil {
			return orchestrator.Decline
		}
		return parseDecision(answer)
	}
}

// announcing wraps a non-interactive policy so each problem still gets a
// header before its first command.
func announcing(next orchestrator.ConfirmFunc, out io.Writer) orchestrator.ConfirmFunc {
	var mu sync.Mutex
	last := ""
	return func(ctx context.Context, p model.ProblemSummary, command string) orchestrator.Decision {
		mu.Lock()
		key := fmt.Sprintf("%s#%d", p.ID, p.Attempts)
		if key != last {
			last = key
			formatter.PrintProblemHeader(out, p)
		}
		mu.Unlock()
		return next(ctx, p, command)
	}
}

// askYesNo prompts for a line answer. def is returned on Enter.
func askYesNo(ctx context.Context, keys *keyReader, out io.Writer, question string, def bool) bool {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", question, hint)
	answer, err := keys.read(ctx)
	fmt.Fprintln(out, answer)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return def
	case "y", "yes":
		return true
	}
	return false
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
