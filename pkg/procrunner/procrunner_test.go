package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, r *Run) []Line {
	t.Helper()
	var lines []Line
	for line := range r.Lines {
		lines = append(lines, line)
	}
	return lines
}

func TestSpawn_CapturesStdoutLines(t *testing.T) {
	r, err := Spawn(context.Background(), "sh", []string{"-c", "echo one; echo two"}, "", 0)
	require.NoError(t, err)

	lines := drainAll(t, r)
	res := <-r.Done
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)

	var texts []string
	for _, l := range lines {
		texts = append(texts, l.Text)
	}
	assert.Equal(t, []string{"one", "two"}, texts)
}

func TestSpawn_CapturesStderrSeparately(t *testing.T) {
	r, err := Spawn(context.Background(), "sh", []string{"-c", "echo err >&2"}, "", 0)
	require.NoError(t, err)

	lines := drainAll(t, r)
	<-r.Done

	require.Len(t, lines, 1)
	assert.Equal(t, Stderr, lines[0].Stream)
	assert.Equal(t, "err", lines[0].Text)
}

func TestSpawn_NonZeroExitReported(t *testing.T) {
	r, err := Spawn(context.Background(), "sh", []string{"-c", "exit 3"}, "", 0)
	require.NoError(t, err)
	drainAll(t, r)
	res := <-r.Done
	assert.Equal(t, 3, res.ExitCode)
}

func TestSpawn_KillTerminatesLongRunningChild(t *testing.T) {
	r, err := Spawn(context.Background(), "sh", []string{"-c", "sleep 30"}, "", 0)
	require.NoError(t, err)
	r.Kill()

	select {
	case <-r.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("child was not terminated by Kill")
	}
}

func TestSpawn_TimeoutKillsChild(t *testing.T) {
	r, err := Spawn(context.Background(), "sh", []string{"-c", "sleep 30"}, "", 50*time.Millisecond)
	require.NoError(t, err)

	select {
	case res := <-r.Done:
		assert.Error(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout did not kill child")
	}
}

func TestTryWait_NonBlockingBeforeCompletion(t *testing.T) {
	r, err := Spawn(context.Background(), "sh", []string{"-c", "sleep 1"}, "", 0)
	require.NoError(t, err)
	_, ok := r.TryWait()
	assert.False(t, ok)
	r.Kill()
	<-r.Done
}
