package store

import (
	"context"
	"time"

	"github.com/othala-run/othala/pkg/task"
)

// StartAgentRun records a new running subprocess for a task.
func (s *Store) StartAgentRun(ctx context.Context, run task.AgentRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (id, task_id, started_at, status)
		VALUES ($1,$2,$3,$4)
	`, run.ID, run.TaskID, run.StartedAt, string(task.AgentRunRunning))
	if err != nil {
		return classifyPgError("start agent run", err)
	}
	return nil
}

// FinishOpenAgentRuns marks every still-running agent_runs row for taskID as
// finished with the given status, reason, and exit code. Used both for
// normal subprocess completion and for reconciling orphaned runs left
// "running" by a crashed process on restart.
func (s *Store) FinishOpenAgentRuns(ctx context.Context, taskID string, status task.AgentRunStatus, reason string, exitCode *int, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs
		SET status = $1, reason = $2, exit_code = $3, ended_at = $4
		WHERE task_id = $5 AND status = $6
	`, string(status), reason, exitCode, endedAt, taskID, string(task.AgentRunRunning))
	if err != nil {
		return classifyPgError("finish open agent runs", err)
	}
	return nil
}

// ListAgentRunsForTask returns every agent run recorded for taskID, most
// recent first.
func (s *Store) ListAgentRunsForTask(ctx context.Context, taskID string) ([]task.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, started_at, ended_at, status, exit_code, reason
		FROM agent_runs WHERE task_id = $1 ORDER BY started_at DESC
	`, taskID)
	if err != nil {
		return nil, classifyPgError("list agent runs", err)
	}
	defer rows.Close()

	var out []task.AgentRun
	for rows.Next() {
		var (
			r      task.AgentRun
			status string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.StartedAt, &r.EndedAt, &status, &r.ExitCode, &r.Reason); err != nil {
			return nil, classifyPgError("scan agent run", err)
		}
		r.Status = task.AgentRunStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("list agent runs", err)
	}
	return out, nil
}
