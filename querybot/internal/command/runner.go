// Package command runs the management commands operators can trigger from chat.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// ErrUnknownCommand is returned for names without a configured command line.
var ErrUnknownCommand = errors.New("unknown command")

// Runner executes a named command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string) (string, error)
}

// ExecRunner runs configured argv lists as child processes.
type ExecRunner struct {
	commands map[string][]string
	timeout  time.Duration
	dir      string
}

// NewExecRunner builds a runner. commands maps a name to its argv.
func NewExecRunner(commands map[string][]string, timeout time.Duration) *ExecRunner {
	return &ExecRunner{commands: commands, timeout: timeout}
}

// WithDir sets the working directory of every command.
func (r *ExecRunner) WithDir(dir string) *ExecRunner {
	r.dir = dir
	return r
}

// Names returns the configured command names sorted.
func (r *ExecRunner) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts the command and waits for it. stdout and stderr are captured
// together. A non-zero exit returns the output alongside the error.
func (r *ExecRunner) Run(ctx context.Context, name string) (string, error) {
	argv, ok := r.commands[name]
	if !ok || len(argv) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Dir = r.dir
	// children that outlive a killed parent must not hold the pipes open
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	output := out.String()
	if err != nil {
		if ctx.Err() != nil {
			return output, fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		if detail := strings.TrimSpace(output); detail != "" {
			return output, fmt.Errorf("%w: %s", err, detail)
		}
		return output, err
	}
	return output, nil
}
