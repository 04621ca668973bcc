package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/othala-run/othala/pkg/task"
)

// AppendEvent inserts a new event row. Fails with ErrUniqueViolation if an
// event with the same id already exists — events are append-only and never
// rewritten.
func (s *Store) AppendEvent(ctx context.Context, e task.Event) error {
	kind, err := json.Marshal(e.Kind)
	if err != nil {
		return fmt.Errorf("store: marshal event kind: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, task_id, repo_id, at, kind) VALUES ($1,$2,$3,$4,$5)
	`, e.ID, e.TaskID, e.RepoID, e.At, kind)
	if err != nil {
		return classifyPgError("append event", err)
	}
	return nil
}

// ListEventsForTask returns every event for taskID ordered by (at, id), the
// ordering guarantee events are written under.
func (s *Store) ListEventsForTask(ctx context.Context, taskID string) ([]task.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, repo_id, at, kind FROM events
		WHERE task_id = $1 ORDER BY at, id
	`, taskID)
	if err != nil {
		return nil, classifyPgError("list events for task", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListGlobalEvents returns every event across all tasks, ordered by (at, id).
func (s *Store) ListGlobalEvents(ctx context.Context) ([]task.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, repo_id, at, kind FROM events ORDER BY at, id
	`)
	if err != nil {
		return nil, classifyPgError("list global events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]task.Event, error) {
	var out []task.Event
	for rows.Next() {
		var (
			e        task.Event
			taskID   sql.NullString
			repoID   sql.NullString
			kindJSON []byte
		)
		if err := rows.Scan(&e.ID, &taskID, &repoID, &e.At, &kindJSON); err != nil {
			return nil, classifyPgError("scan event", err)
		}
		if taskID.Valid {
			v := taskID.String
			e.TaskID = &v
		}
		if repoID.Valid {
			v := repoID.String
			e.RepoID = &v
		}
		if err := json.Unmarshal(kindJSON, &e.Kind); err != nil {
			return nil, fmt.Errorf("store: unmarshal event kind: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("list events", err)
	}
	return out, nil
}
