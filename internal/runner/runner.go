// Package runner executes host commands (package manager, git, pip, systemctl)
// synchronously and streams their output into the run log.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
)

// Command is a single process invocation
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the current environment. Values are never logged.
	Env []string
}

// New builds a Command from a program name and its arguments
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command line for logs and errors
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner runs a command to completion and returns its combined output
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner returns a Runner backed by real processes
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		logger: logger.With().Str("service", "runner").Logger(),
	}
}

// Run executes cmd. A non-zero exit status is reported as ErrCommandFailed.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	logger := r.logger.With().Str("cmd", cmd.String()).Logger()
	logger.Info().Msg("running command")

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var output bytes.Buffer
	lw := newLineWriter(logger)
	w := io.MultiWriter(&output, lw)
	c.Stdout = w
	c.Stderr = w

	err := c.Run()
	lw.Flush()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Error().Int("exit_code", exitErr.ExitCode()).Msg("command failed")
			return output.Bytes(), fmt.Errorf("%w: %s: exit status %d", bootstraperrors.ErrCommandFailed, cmd, exitErr.ExitCode())
		}
		logger.Error().Err(err).Msg("command failed to start")
		return output.Bytes(), fmt.Errorf("%w: %s: %w", bootstraperrors.ErrCommandFailed, cmd, err)
	}

	return output.Bytes(), nil
}

// lineWriter logs every complete line written to it
type lineWriter struct {
	logger zerolog.Logger
	buf    bytes.Buffer
}

func newLineWriter(logger zerolog.Logger) *lineWriter {
	return &lineWriter{logger: logger}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.emit(line)
	}
}

// Flush logs any trailing partial line
func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	w.logger.Debug().Msg(line)
}

// Lines splits command output into trimmed, non-empty lines
func Lines(output []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
