// Package command runs the external audio tools (yt-dlp, ffmpeg, ffprobe, fpcalc).
package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/backoff"
	"github.com/cwygoda/musicgrabber/internal/library"
)

// Cmd describes one external invocation.
type Cmd struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

func (c Cmd) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds captured output.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// ExitError is returned when a command exits non-zero. Its message carries
// stderr so callers can classify failures by text.
type ExitError struct {
	Name   string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed: %v: %s", e.Name, e.Err, strings.TrimSpace(e.Stderr))
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exec runs commands with os/exec.
type Exec struct {
	log zerolog.Logger
}

// NewExec creates an Exec runner.
func NewExec(log zerolog.Logger) *Exec {
	return &Exec{log: log}
}

// Run executes c, capturing stdout and stderr separately. A command killed
// by its own timeout reports backoff.ErrTimeout.
func (e *Exec) Run(ctx context.Context, c Cmd) (Result, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debug().Str("cmd", c.Name).Strs("args", c.Args).Msg("exec")
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return res, errors.Wrapf(backoff.ErrTimeout, "%s after %s", c.Name, c.Timeout)
	}
	return res, &ExitError{Name: c.Name, Stderr: stderr.String(), Err: err}
}

// Isolated runs fn with a fresh temp directory and moves whatever it leaves
// there into targetDir without overwriting. The temp dir is always removed.
func Isolated(ctx context.Context, log zerolog.Logger, prefix, targetDir string, fn func(ctx context.Context, tempDir string) error) ([]string, error) {
	tempDir, err := os.MkdirTemp("", "musicgrabber-"+prefix+"-*")
	if err != nil {
		return nil, errors.Wrap(err, "create temp dir")
	}
	log.Debug().Str("dir", tempDir).Msg("running isolated")
	defer os.RemoveAll(tempDir)

	if err := fn(ctx, tempDir); err != nil {
		return nil, err
	}
	return library.MoveFiles(log, tempDir, targetDir)
}
