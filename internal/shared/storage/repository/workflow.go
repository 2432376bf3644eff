package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
)

const workflowColumns = `id, name, description, config, created_at, updated_at`

// CreateWorkflow 创建工作流
func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	config, err := json.Marshal(wf.Config)
	if err != nil {
		return fmt.Errorf("marshal workflow config: %w", err)
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}

	query := s.rebind(`INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	_, err = s.db.ExecContext(ctx, query,
		wf.ID, wf.Name, wf.Description, string(config), wf.CreatedAt, wf.UpdatedAt)
	return s.wrapError("create workflow", err)
}

// GetWorkflow 获取工作流
func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	query := s.rebind(`SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`)
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, s.wrapError("get workflow", err)
	}
	return wf, nil
}

// ListWorkflows 列出工作流（按创建时间倒序）
func (s *Store) ListWorkflows(ctx context.Context, opts storage.ListOptions) ([]*model.Workflow, error) {
	opts = opts.Normalize()
	query := s.rebind(`SELECT ` + workflowColumns + ` FROM workflows
		ORDER BY created_at DESC, id ASC LIMIT $1 OFFSET $2`)
	rows, err := s.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, s.wrapError("list workflows", err)
	}
	defer rows.Close()

	workflows := []*model.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, s.wrapError("scan workflow", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// UpdateWorkflow 更新工作流名称、描述和配置
func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	config, err := json.Marshal(wf.Config)
	if err != nil {
		return fmt.Errorf("marshal workflow config: %w", err)
	}
	wf.UpdatedAt = time.Now().UTC()

	query := s.rebind(`UPDATE workflows SET name = $1, description = $2, config = $3, updated_at = $4
		WHERE id = $5`)
	res, err := s.db.ExecContext(ctx, query, wf.Name, wf.Description, string(config), wf.UpdatedAt, wf.ID)
	if err != nil {
		return s.wrapError("update workflow", err)
	}
	return expectAffected(res)
}

// DeleteWorkflow 删除工作流
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM workflows WHERE id = $1`), id)
	if err != nil {
		return s.wrapError("delete workflow", err)
	}
	return expectAffected(res)
}

func scanWorkflow(scanner rowScanner) (*model.Workflow, error) {
	wf := &model.Workflow{}
	var description *string
	var config []byte
	if err := scanner.Scan(&wf.ID, &wf.Name, &description, &config, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	if description != nil {
		wf.Description = *description
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &wf.Config); err != nil {
			return nil, fmt.Errorf("decode workflow %s config: %w", wf.ID, err)
		}
	}
	return wf, nil
}
