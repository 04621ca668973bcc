package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othala-run/othala/pkg/task"
)

func mkEvent(id, taskID string) task.Event {
	return task.Event{
		ID:     id,
		TaskID: &taskID,
		At:     time.Now().UTC(),
		Kind:   task.EventKind{Tag: task.EventTaskStateChanged, From: task.StateInitializing, To: task.StateDraftPROpen},
	}
}

func TestEnsureLayout_IdempotentAndCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l := New(dir)
	require.NoError(t, l.EnsureLayout())
	require.NoError(t, l.EnsureLayout())
	_, err := os.Stat(dir)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestAppendBoth_WritesPerTaskAndGlobal(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	require.NoError(t, l.EnsureLayout())
	defer l.Close()

	e1 := mkEvent("ev1", "t1")
	e2 := mkEvent("ev2", "t2")
	require.NoError(t, l.AppendBoth(e1))
	require.NoError(t, l.AppendBoth(e2))

	t1Events, err := l.ReadTaskEvents("t1")
	require.NoError(t, err)
	assert.Len(t, t1Events, 1)
	assert.Equal(t, "ev1", t1Events[0].ID)

	global, err := l.ReadGlobalEvents()
	require.NoError(t, err)
	assert.Len(t, global, 2)
}

func TestReadTaskEvents_MissingFileReturnsEmpty(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.EnsureLayout())
	defer l.Close()

	events, err := l.ReadTaskEvents("never-written")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadTaskEvents_TolerantOfTrailingPartialLine(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	require.NoError(t, l.EnsureLayout())
	require.NoError(t, l.AppendBoth(mkEvent("ev1", "t1")))
	require.NoError(t, l.Close())

	path := filepath.Join(dir, "t1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"ev2","task_id":"t1"`) // unterminated JSON
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2 := New(dir)
	events, err := l2.ReadTaskEvents("t1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev1", events[0].ID)
}

func TestAppendBoth_BeforeEnsureLayoutFails(t *testing.T) {
	l := New(t.TempDir())
	err := l.AppendBoth(mkEvent("ev1", "t1"))
	require.Error(t, err)
}

func TestAppendBoth_AfterCloseFails(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.EnsureLayout())
	require.NoError(t, l.Close())
	err := l.AppendBoth(mkEvent("ev1", "t1"))
	assert.ErrorIs(t, err, ErrClosed)
}
