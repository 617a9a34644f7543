package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"labelflow/internal/domain"
	"labelflow/internal/lifecycle"
)

const projectColumns = `id,name,COALESCE(description,''),COALESCE(file_type,''),file_count,COALESCE(total_size,''),priority,categories_json,
COALESCE(notes,''),status,progress,submitter,labelers_json,validators_json,file_ids_json,labelled_file_ids_json,validated_file_ids_json,
accuracy,completed_tasks,total_tasks,COALESCE(estimated_completion,''),feedback_json,created_at,last_activity,version`

type ProjectFilters struct {
	Submitter string
	Status    string
	Limit     int
}

func scanProject(row scanner) (domain.Project, error) {
	var (
		p                                  domain.Project
		categories, labelers, validators   string
		fileIDs, labelledIDs, validatedIDs string
		feedback                           sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.FileType, &p.FileCount, &p.TotalSize, &p.Priority, &categories,
		&p.Notes, &p.Status, &p.Progress, &p.Submitter, &labelers, &validators, &fileIDs, &labelledIDs, &validatedIDs,
		&p.Accuracy, &p.CompletedTasks, &p.TotalTasks, &p.EstimatedCompletion, &feedback, &p.CreatedAt, &p.LastActivity, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	targets := []struct {
		raw string
		dst *[]string
	}{
		{categories, &p.Categories},
		{labelers, &p.Labelers},
		{validators, &p.Validators},
		{fileIDs, &p.FileIDs},
		{labelledIDs, &p.LabelledFileIDs},
		{validatedIDs, &p.ValidatedFileIDs},
	}
	for _, t := range targets {
		list, err := unmarshalList(t.raw)
		if err != nil {
			return p, fmt.Errorf("project %s: %w", p.ID, err)
		}
		*t.dst = list
	}
	if feedback.Valid && feedback.String != "" {
		var fb domain.Feedback
		if err := json.Unmarshal([]byte(feedback.String), &fb); err != nil {
			return p, fmt.Errorf("project %s feedback: %w", p.ID, err)
		}
		p.Feedback = &fb
	}
	return p, nil
}

func feedbackJSON(fb *domain.Feedback) (any, error) {
	if fb == nil {
		return nil, nil
	}
	b, err := json.Marshal(fb)
	if err != nil {
		return nil, fmt.Errorf("marshal feedback: %w", err)
	}
	return string(b), nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	lists, err := marshalLists(p.Categories, p.Labelers, p.Validators, p.FileIDs, p.LabelledFileIDs, p.ValidatedFileIDs)
	if err != nil {
		return err
	}
	fb, err := feedbackJSON(p.Feedback)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,description,file_type,file_count,total_size,priority,categories_json,notes,status,progress,
submitter,labelers_json,validators_json,file_ids_json,labelled_file_ids_json,validated_file_ids_json,accuracy,completed_tasks,total_tasks,
estimated_completion,feedback_json,created_at,last_activity,version) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.FileType), p.FileCount, nullable(p.TotalSize), p.Priority, lists[0], nullable(p.Notes),
		p.Status, p.Progress, p.Submitter, lists[1], lists[2], lists[3], lists[4], lists[5], p.Accuracy, p.CompletedTasks, p.TotalTasks,
		nullable(p.EstimatedCompletion), fb, p.CreatedAt, p.LastActivity, p.Version)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var (
		where []string
		args  []any
	)
	if f.Submitter != "" {
		where = append(where, "submitter=?")
		args = append(args, f.Submitter)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject writes every mutable column of p if the stored version still
// equals expected, and bumps the version. A stale version yields
// lifecycle.ErrPersistenceConflict.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project, expected int64) (int64, error) {
	lists, err := marshalLists(p.Categories, p.Labelers, p.Validators, p.FileIDs, p.LabelledFileIDs, p.ValidatedFileIDs)
	if err != nil {
		return 0, err
	}
	fb, err := feedbackJSON(p.Feedback)
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET name=?,description=?,file_type=?,file_count=?,total_size=?,priority=?,categories_json=?,
notes=?,status=?,progress=?,labelers_json=?,validators_json=?,file_ids_json=?,labelled_file_ids_json=?,validated_file_ids_json=?,accuracy=?,
completed_tasks=?,total_tasks=?,estimated_completion=?,feedback_json=?,last_activity=?,version=version+1 WHERE id=? AND version=?`,
		p.Name, nullable(p.Description), nullable(p.FileType), p.FileCount, nullable(p.TotalSize), p.Priority, lists[0],
		nullable(p.Notes), p.Status, p.Progress, lists[1], lists[2], lists[3], lists[4], lists[5], p.Accuracy,
		p.CompletedTasks, p.TotalTasks, nullable(p.EstimatedCompletion), fb, p.LastActivity, p.ID, expected)
	if err != nil {
		return 0, fmt.Errorf("update project: %w", err)
	}
	if err := r.checkCAS(ctx, tx, res, "projects", p.ID); err != nil {
		return 0, err
	}
	return expected + 1, nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// checkCAS distinguishes a missing row from a version mismatch after an
// UPDATE ... WHERE version=? touched nothing.
func (r Repo) checkCAS(ctx context.Context, tx *sql.Tx, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id=?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s was modified concurrently", lifecycle.ErrPersistenceConflict, strings.TrimSuffix(table, "s"), id)
}
