package command

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner(t *testing.T) {
	requireShell(t)

	r := NewExecRunner(map[string][]string{
		"hello":   {"sh", "-c", "echo hello; echo warn >&2"},
		"fail":    {"sh", "-c", "echo broken index >&2; exit 3"},
		"silent":  {"sh", "-c", "exit 1"},
		"sleeper": {"sh", "-c", "exec sleep 5"},
	}, 200*time.Millisecond)

	out, err := r.Run(context.Background(), "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "hello\n")
	assert.Contains(t, out, "warn\n")

	out, err = r.Run(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "broken index")
	assert.Contains(t, out, "broken index")

	_, err = r.Run(context.Background(), "silent")
	assert.EqualError(t, err, "exit status 1")

	_, err = r.Run(context.Background(), "sleeper")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecRunnerUnknown(t *testing.T) {
	r := NewExecRunner(map[string][]string{"empty": {}}, 0)

	_, err := r.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = r.Run(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestNames(t *testing.T) {
	r := NewExecRunner(map[string][]string{"b": {"x"}, "a": {"y"}}, 0)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}
