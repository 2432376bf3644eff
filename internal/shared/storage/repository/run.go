package repository

import (
	"context"
	"fmt"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
	"labflow-admin/internal/shared/storage/dbutil"
)

const runColumns = `id, workflow_id, workcell_id, state, created_at, updated_at`

// UpsertRun 写入或更新 run（以 run manager 推送的状态为准）
func (s *Store) UpsertRun(ctx context.Context, run *model.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := s.rebind(`INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6) ` +
		s.dialect.UpsertConflict("id", []string{
			"state = EXCLUDED.state",
			"workflow_id = COALESCE(NULLIF(EXCLUDED.workflow_id, ''), runs.workflow_id)",
			"workcell_id = COALESCE(NULLIF(EXCLUDED.workcell_id, ''), runs.workcell_id)",
			"updated_at = EXCLUDED.updated_at",
		}))
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.WorkflowID, run.WorkcellID, string(run.State), run.CreatedAt, run.UpdatedAt)
	return s.wrapError("upsert run", err)
}

// GetRun 获取 run
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs WHERE id = $1`)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, s.wrapError("get run", err)
	}
	return run, nil
}

// ListRuns 按条件列出 run（按创建时间倒序）
func (s *Store) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*model.Run, error) {
	opts := filter.ListOptions.Normalize()

	var conditions []string
	var args []interface{}
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}
	args = append(args, opts.Limit, opts.Offset)
	suffix := fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	query := dbutil.BuildDynamicQuery(s.dialect, `SELECT `+runColumns+` FROM runs`, conditions, suffix)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrapError("list runs", err)
	}
	defer rows.Close()

	runs := []*model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, s.wrapError("scan run", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scanner rowScanner) (*model.Run, error) {
	run := &model.Run{}
	var workflowID, workcellID *string
	var state string
	if err := scanner.Scan(&run.ID, &workflowID, &workcellID, &state, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if workflowID != nil {
		run.WorkflowID = *workflowID
	}
	if workcellID != nil {
		run.WorkcellID = *workcellID
	}
	run.State = model.RunState(state)
	return run, nil
}
