package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"labelflow/internal/domain"
)

const taskColumns = `id,title,text,image_key,points,example_description,COALESCE(example_image_key,''),created_by,created_at,updated_at,version`

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Title, &t.Text, &t.ImageKey, &t.Points, &t.Example.Description, &t.Example.ImageKey,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,title,text,image_key,points,example_description,example_image_key,created_by,created_at,updated_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Text, t.ImageKey, t.Points, t.Example.Description, nullable(t.Example.ImageKey), t.CreatedBy, t.CreatedAt, t.UpdatedAt, t.Version)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

// GetTaskTx loads a task with its responses in submission order.
func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	grouped, err := r.responses(ctx, tx, id)
	if err != nil {
		return t, err
	}
	t.Responses = grouped[id]
	if t.Responses == nil {
		t.Responses = []domain.TaskResponse{}
	}
	return t, nil
}

func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	grouped, err := r.responses(ctx, nil, "")
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Responses = grouped[res[i].ID]
		if res[i].Responses == nil {
			res[i].Responses = []domain.TaskResponse{}
		}
	}
	return res, nil
}

// responses returns responses keyed by task id; an empty taskID loads all.
func (r Repo) responses(ctx context.Context, tx *sql.Tx, taskID string) (map[string][]domain.TaskResponse, error) {
	query := `SELECT task_id,reviewer_id,verdict,reason,created_at,COALESCE(updated_at,'') FROM task_responses`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id=?`
		args = append(args, taskID)
	}
	query += ` ORDER BY task_id, seq`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]domain.TaskResponse{}
	for rows.Next() {
		var (
			id      string
			resp    domain.TaskResponse
			verdict int
		)
		if err := rows.Scan(&id, &resp.ReviewerID, &verdict, &resp.Reason, &resp.CreatedAt, &resp.UpdatedAt); err != nil {
			return nil, err
		}
		resp.Verdict = verdict == 1
		out[id] = append(out[id], resp)
	}
	return out, rows.Err()
}

func (r Repo) InsertResponse(ctx context.Context, tx *sql.Tx, taskID string, seq int, resp domain.TaskResponse) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_responses(task_id,seq,reviewer_id,verdict,reason,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		taskID, seq, resp.ReviewerID, boolInt(resp.Verdict), resp.Reason, resp.CreatedAt, nullable(resp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (r Repo) UpdateResponse(ctx context.Context, tx *sql.Tx, taskID string, resp domain.TaskResponse) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE task_responses SET verdict=?,reason=?,updated_at=? WHERE task_id=? AND reviewer_id=?`,
		boolInt(resp.Verdict), resp.Reason, nullable(resp.UpdatedAt), taskID, resp.ReviewerID)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchTask bumps the task version if it still equals expected.
func (r Repo) TouchTask(ctx context.Context, tx *sql.Tx, id string, expected int64, updatedAt string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET updated_at=?,version=version+1 WHERE id=? AND version=?`, updatedAt, id, expected)
	if err != nil {
		return 0, fmt.Errorf("touch task: %w", err)
	}
	if err := r.checkCAS(ctx, tx, res, "tasks", id); err != nil {
		return 0, err
	}
	return expected + 1, nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
