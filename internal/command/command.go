// Package command runs the external programs the pipeline steps rely on
// (rsync, bcl2fastq, docker, the QC program).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/GenomiqueENS/aozan/internal/logging"
)

// Cmd describes one program invocation.
type Cmd struct {
	Name string
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Env is added to the environment of the current process.
	Env []string

	// Stdout and Stderr receive the program output. When nil the output is
	// captured in the returned Result.
	Stdout io.Writer
	Stderr io.Writer
}

// String returns the command line, for logs and alerts.
func (c Cmd) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t'\"*?") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished program.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// ExitError is returned for a program that ran and exited with a non-zero code.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command exited with code %d: %s", e.Code, e.Cmd)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

// Runner starts programs. Steps take a Runner so tests can replace it.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// Exec runs programs with os/exec.
type Exec struct {
	Logger *logging.Logger
}

// NewExec creates an Exec runner.
func NewExec(logger *logging.Logger) *Exec {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Exec{Logger: logger}
}

// Run starts cmd and waits for it. A non-zero exit is an *ExitError.
func (e *Exec) Run(ctx context.Context, c Cmd) (Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger.Info().Str("cmd", c.String()).Msg("exec")

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Elapsed: time.Since(start)}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Cmd: c.String(), Code: res.ExitCode, Stderr: res.Stderr}
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("command interrupted: %s: %w", c.String(), ctx.Err())
		}
		return res, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	logger.Debug().Str("cmd", c.Name).Dur("elapsed", res.Elapsed).Msg("exec done")
	return res, nil
}
