package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Command is one subprocess invocation.
type Command struct {
	Args []string
	Dir  string
	// Env replaces the process environment when non-nil.
	Env []string
}

// Result holds the fully buffered output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Output is stdout followed by stderr.
func (r Result) Output() string {
	return string(r.Stdout) + string(r.Stderr)
}

// Runner executes commands. A nonzero exit status is reported through
// Result.ExitCode; the error is reserved for commands that could not run.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}
	bin := c.Args[0]
	if !strings.ContainsRune(bin, '/') {
		path, err := exec.LookPath(bin)
		if err != nil {
			return Result{}, fmt.Errorf("%s not found in PATH: %w", bin, err)
		}
		bin = path
	}

	cmd := exec.CommandContext(ctx, bin, c.Args[1:]...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("running %s: %w", c.Args[0], err)
	}
	return res, nil
}
