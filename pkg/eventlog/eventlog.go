// Package eventlog mirrors the task event stream to human-readable,
// append-only JSONL files: one per task, plus a single global stream. The
// store (pkg/store) remains the durable source of truth; this mirror exists
// for operators to tail with plain file tools.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/othala-run/othala/pkg/task"
)

var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("eventlog: log is closed")
)

// WriteError wraps a failure to create, write, open or read one of the
// mirror's files with the path that failed.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("eventlog: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

const globalFileName = "_global.jsonl"

// JSONLEventLog is the append-only JSONL mirror described by spec.md §4.2.
// All writes are serialized by mu so append_both is atomic with respect to
// concurrent callers of the same process.
type JSONLEventLog struct {
	root string

	mu     sync.Mutex
	closed bool
	global *os.File
	tasks  map[string]*os.File
}

// New constructs a log rooted at dir. Call EnsureLayout before first use.
func New(dir string) *JSONLEventLog {
	return &JSONLEventLog{root: dir, tasks: make(map[string]*os.File)}
}

// EnsureLayout creates the log's root directory and opens the global
// stream, idempotently. Safe to call multiple times.
func (l *JSONLEventLog) EnsureLayout() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return &WriteError{Path: l.root, Err: err}
	}
	if l.global != nil {
		return nil
	}
	f, err := l.openAppend(globalFileName)
	if err != nil {
		return err
	}
	l.global = f
	return nil
}

func (l *JSONLEventLog) openAppend(name string) (*os.File, error) {
	path := filepath.Join(l.root, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	return f, nil
}

func (l *JSONLEventLog) taskFileLocked(taskID string) (*os.File, error) {
	if f, ok := l.tasks[taskID]; ok {
		return f, nil
	}
	f, err := l.openAppend(taskID + ".jsonl")
	if err != nil {
		return nil, err
	}
	l.tasks[taskID] = f
	return f, nil
}

// AppendBoth serializes event once and appends the line to both the
// per-task stream (if event.TaskID is set) and the global stream,
// synchronously and in that order.
func (l *JSONLEventLog) AppendBoth(event task.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event %s: %w", event.ID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.global == nil {
		return errors.New("eventlog: EnsureLayout not called")
	}

	if event.TaskID != nil {
		tf, err := l.taskFileLocked(*event.TaskID)
		if err != nil {
			return err
		}
		if _, err := tf.Write(line); err != nil {
			return &WriteError{Path: tf.Name(), Err: err}
		}
	}
	if _, err := l.global.Write(line); err != nil {
		return &WriteError{Path: l.global.Name(), Err: err}
	}
	return nil
}

// ReadTaskEvents reads every well-formed JSON line from a task's mirror
// file, in file order. A trailing partial line (a crash mid-write left an
// unterminated final line) is tolerated and silently dropped rather than
// surfaced as an error.
func (l *JSONLEventLog) ReadTaskEvents(taskID string) ([]task.Event, error) {
	return readEvents(filepath.Join(l.root, taskID+".jsonl"))
}

// ReadGlobalEvents reads every well-formed JSON line from the global
// mirror file, tolerating a trailing partial line the same way
// ReadTaskEvents does.
func (l *JSONLEventLog) ReadGlobalEvents() ([]task.Event, error) {
	return readEvents(filepath.Join(l.root, globalFileName))
}

func readEvents(path string) ([]task.Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}

	events := make([]task.Event, 0, len(lines))
	for i, line := range lines {
		var e task.Event
		if err := json.Unmarshal(line, &e); err != nil {
			if i == len(lines)-1 {
				// A trailing partial line means a write was interrupted
				// mid-append; tolerate it rather than fail the whole read.
				break
			}
			return nil, fmt.Errorf("eventlog: corrupt line in %s: %w", path, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Close flushes and closes every open file handle. The log must not be
// used afterward.
func (l *JSONLEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	if l.global != nil {
		if err := l.global.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range l.tasks {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
