package vcs

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStackTool writes a tiny shell script with the given body, standing in
// for the external stack-tool binary: each test's body prints canned output
// and picks the exit status, so the parsing logic can be exercised without a
// real tool installed.
func fakeStackTool(t *testing.T, body string) StackToolConfig {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake stack tool script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-gt")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return StackToolConfig{Binary: path, Timeout: 5 * time.Second}
}

func TestRestack_BenignNoopIsNotAnError(t *testing.T) {
	cfg := fakeStackTool(t, `echo "branch does not need to be restacked"; exit 0`)
	st := NewStackTool(cfg)
	outcome, err := st.Restack(context.Background(), t.TempDir(), "feature/one")
	require.NoError(t, err)
	require.False(t, outcome.Restacked)
	require.False(t, outcome.Conflict)
}

func TestRestack_SuccessReportsRestacked(t *testing.T) {
	cfg := fakeStackTool(t, `echo "restacked 1 branch"; exit 0`)
	st := NewStackTool(cfg)
	outcome, err := st.Restack(context.Background(), t.TempDir(), "feature/one")
	require.NoError(t, err)
	require.True(t, outcome.Restacked)
}

func TestRestack_ConflictIsReportedNotErrored(t *testing.T) {
	cfg := fakeStackTool(t, `echo "CONFLICT (content): merge conflict in file.go" >&2; exit 1`)
	st := NewStackTool(cfg)
	outcome, err := st.Restack(context.Background(), t.TempDir(), "feature/one")
	require.NoError(t, err)
	require.True(t, outcome.Conflict)
}

func TestRestack_GenuineFailureIsReturnedAsError(t *testing.T) {
	cfg := fakeStackTool(t, `echo "internal error: tool crashed" >&2; exit 1`)
	st := NewStackTool(cfg)
	_, err := st.Restack(context.Background(), t.TempDir(), "feature/one")
	require.Error(t, err)
}

func TestSubmit_SingleBranchPassesBranchFlagOnly(t *testing.T) {
	cfg := fakeStackTool(t, `
if [ "$1" = "submit" ]; then
  echo "args: $*"
  exit 0
fi
exit 1
`)
	st := NewStackTool(cfg)
	outcome, err := st.Submit(context.Background(), t.TempDir(), "feature/one", SubmitSingleBranch)
	require.NoError(t, err)
	require.Contains(t, outcome.Output, "--branch feature/one")
	require.NotContains(t, outcome.Output, "--stack")
}

func TestSubmit_WholeStackPassesStackFlag(t *testing.T) {
	cfg := fakeStackTool(t, `echo "args: $*"; exit 0`)
	st := NewStackTool(cfg)
	outcome, err := st.Submit(context.Background(), t.TempDir(), "feature/one", SubmitWholeStack)
	require.NoError(t, err)
	require.Contains(t, outcome.Output, "--stack")
}

func TestTrackBranch_AlreadyTrackedIsTolerated(t *testing.T) {
	cfg := fakeStackTool(t, `echo "branch already tracked"; exit 1`)
	st := NewStackTool(cfg)
	err := st.TrackBranch(context.Background(), t.TempDir(), "feature/one", "main")
	require.NoError(t, err)
}

func TestSyncStack_BenignNoopIsNotAnError(t *testing.T) {
	cfg := fakeStackTool(t, `echo "already up to date"; exit 1`)
	st := NewStackTool(cfg)
	err := st.SyncStack(context.Background(), t.TempDir())
	require.NoError(t, err)
}

func TestNewStackTool_DefaultsBinaryAndTimeout(t *testing.T) {
	st := NewStackTool(StackToolConfig{})
	require.Equal(t, "gt", st.cfg.Binary)
	require.Equal(t, 2*time.Minute, st.cfg.Timeout)
}
