package store

import (
	"context"

	"github.com/othala-run/othala/pkg/task"
)

// UpsertApproval records a reviewer's verdict, replacing any prior verdict
// from the same reviewer on the same task.
func (s *Store) UpsertApproval(ctx context.Context, a task.Approval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (task_id, reviewer, verdict, issued_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (task_id, reviewer) DO UPDATE SET
			verdict = EXCLUDED.verdict,
			issued_at = EXCLUDED.issued_at
	`, a.TaskID, string(a.Reviewer), string(a.Verdict), a.IssuedAt)
	if err != nil {
		return classifyPgError("upsert approval", err)
	}
	return nil
}

// ListApprovalsForTask returns every approval recorded for taskID.
func (s *Store) ListApprovalsForTask(ctx context.Context, taskID string) ([]task.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, reviewer, verdict, issued_at FROM approvals
		WHERE task_id = $1 ORDER BY reviewer
	`, taskID)
	if err != nil {
		return nil, classifyPgError("list approvals", err)
	}
	defer rows.Close()

	var out []task.Approval
	for rows.Next() {
		var (
			a                 task.Approval
			reviewer, verdict string
		)
		if err := rows.Scan(&a.TaskID, &reviewer, &verdict, &a.IssuedAt); err != nil {
			return nil, classifyPgError("scan approval", err)
		}
		a.Reviewer = task.ModelKind(reviewer)
		a.Verdict = task.ReviewVerdict(verdict)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("list approvals", err)
	}
	return out, nil
}
