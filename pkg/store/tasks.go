package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/othala-run/othala/pkg/task"
)

// UpsertTask writes the full task row, replacing any existing row with the
// same id.
func (s *Store) UpsertTask(ctx context.Context, t task.Task) error {
	dependsOn, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("store: marshal depends_on: %w", err)
	}
	var pr []byte
	if t.PR != nil {
		pr, err = json.Marshal(t.PR)
		if err != nil {
			return fmt.Errorf("store: marshal pr: %w", err)
		}
	}
	verifyStatus, err := json.Marshal(t.VerifyStatus)
	if err != nil {
		return fmt.Errorf("store: marshal verify_status: %w", err)
	}
	reviewStatus, err := json.Marshal(t.ReviewStatus)
	if err != nil {
		return fmt.Errorf("store: marshal review_status: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, repo_id, title, state, role, type, preferred_model, depends_on,
			submit_mode, branch_name, worktree_path, pr, verify_status,
			review_status, patch_ready, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			repo_id = EXCLUDED.repo_id,
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			role = EXCLUDED.role,
			type = EXCLUDED.type,
			preferred_model = EXCLUDED.preferred_model,
			depends_on = EXCLUDED.depends_on,
			submit_mode = EXCLUDED.submit_mode,
			branch_name = EXCLUDED.branch_name,
			worktree_path = EXCLUDED.worktree_path,
			pr = EXCLUDED.pr,
			verify_status = EXCLUDED.verify_status,
			review_status = EXCLUDED.review_status,
			patch_ready = EXCLUDED.patch_ready,
			updated_at = EXCLUDED.updated_at
	`,
		t.ID, t.RepoID, t.Title, string(t.State), string(t.Role), string(t.Type),
		modelPtrToSQL(t.PreferredModel), dependsOn, string(t.SubmitMode),
		t.BranchName, t.WorktreePath, nullableJSON(pr), verifyStatus,
		reviewStatus, t.PatchReady, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return classifyPgError("upsert task", err)
	}
	return nil
}

// LoadTask returns the task with id, or ErrTaskNotFound.
func (s *Store) LoadTask(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, title, state, role, type, preferred_model, depends_on,
		       submit_mode, branch_name, worktree_path, pr, verify_status,
		       review_status, patch_ready, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id)
	return scanTask(row)
}

// ListTasks returns every task, ordered by creation time for stable output.
func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, title, state, role, type, preferred_model, depends_on,
		       submit_mode, branch_name, worktree_path, pr, verify_status,
		       review_status, patch_ready, created_at, updated_at
		FROM tasks ORDER BY created_at, id
	`)
	if err != nil {
		return nil, classifyPgError("list tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByState returns every task in the given state, ordered by
// creation time.
func (s *Store) ListTasksByState(ctx context.Context, state task.State) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, title, state, role, type, preferred_model, depends_on,
		       submit_mode, branch_name, worktree_path, pr, verify_status,
		       review_status, patch_ready, created_at, updated_at
		FROM tasks WHERE state = $1 ORDER BY created_at, id
	`, string(state))
	if err != nil {
		return nil, classifyPgError("list tasks by state", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t                                   task.Task
		state, role, typ, submitMode        string
		preferredModel, branchName          sql.NullString
		dependsOn, pr, verifyStatus         []byte
		reviewStatus                        []byte
	)
	err := row.Scan(
		&t.ID, &t.RepoID, &t.Title, &state, &role, &typ, &preferredModel, &dependsOn,
		&submitMode, &branchName, &t.WorktreePath, &pr, &verifyStatus,
		&reviewStatus, &t.PatchReady, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return task.Task{}, classifyPgError("scan task", err)
	}

	t.State = task.State(state)
	t.Role = task.Role(role)
	t.Type = task.Type(typ)
	t.SubmitMode = task.SubmitMode(submitMode)
	if preferredModel.Valid {
		m := task.ModelKind(preferredModel.String)
		t.PreferredModel = &m
	}
	if branchName.Valid {
		b := branchName.String
		t.BranchName = &b
	}
	if err := json.Unmarshal(dependsOn, &t.DependsOn); err != nil {
		return task.Task{}, fmt.Errorf("store: unmarshal depends_on: %w", err)
	}
	if len(pr) > 0 {
		var ref task.PullRequestRef
		if err := json.Unmarshal(pr, &ref); err != nil {
			return task.Task{}, fmt.Errorf("store: unmarshal pr: %w", err)
		}
		t.PR = &ref
	}
	if err := json.Unmarshal(verifyStatus, &t.VerifyStatus); err != nil {
		return task.Task{}, fmt.Errorf("store: unmarshal verify_status: %w", err)
	}
	if err := json.Unmarshal(reviewStatus, &t.ReviewStatus); err != nil {
		return task.Task{}, fmt.Errorf("store: unmarshal review_status: %w", err)
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]task.Task, error) {
	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("list tasks", err)
	}
	return out, nil
}

func modelPtrToSQL(m *task.ModelKind) any {
	if m == nil {
		return nil
	}
	return string(*m)
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
