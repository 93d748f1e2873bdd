package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/musicgrabber/internal/backoff"
)

func TestExec_Run(t *testing.T) {
	r := NewExec(zerolog.Nop())

	res, err := r.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestExec_RunFailure(t *testing.T) {
	r := NewExec(zerolog.Nop())

	_, err := r.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo 'HTTP Error 403: Forbidden' >&2; exit 1"}})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, backoff.IsForbidden(err.Error()))
}

func TestExec_RunTimeout(t *testing.T) {
	r := NewExec(zerolog.Nop())

	_, err := r.Run(context.Background(), Cmd{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	assert.True(t, backoff.IsTimeout(err))
}

func TestExec_RunInDir(t *testing.T) {
	dir := t.TempDir()
	r := NewExec(zerolog.Nop())

	_, err := r.Run(context.Background(), Cmd{Name: "touch", Args: []string{"output.txt"}, Dir: dir})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "output.txt"))
}

func TestIsolated(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "exists.flac"), []byte("original"), 0o644))

	var temp string
	moved, err := Isolated(context.Background(), zerolog.Nop(), "job1", target, func(ctx context.Context, dir string) error {
		temp = dir
		os.WriteFile(filepath.Join(dir, "new.flac"), []byte("new"), 0o644)
		return os.WriteFile(filepath.Join(dir, "exists.flac"), []byte("new"), 0o644)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(target, "new.flac")}, moved)

	data, _ := os.ReadFile(filepath.Join(target, "exists.flac"))
	assert.Equal(t, "original", string(data))
	assert.NoDirExists(t, temp, "temp dir cleaned up")
}

func TestIsolated_ErrorLeavesTargetUntouched(t *testing.T) {
	target := t.TempDir()

	_, err := Isolated(context.Background(), zerolog.Nop(), "job2", target, func(ctx context.Context, dir string) error {
		os.WriteFile(filepath.Join(dir, "partial.webm"), []byte("x"), 0o644)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	entries, _ := os.ReadDir(target)
	assert.Empty(t, entries)
}
