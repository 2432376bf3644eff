package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
)

const workcellColumns = `id, name, description, instruments, created_at, updated_at`

// CreateWorkcell 创建工作单元
func (s *Store) CreateWorkcell(ctx context.Context, wc *model.Workcell) error {
	instruments, err := json.Marshal(wc.Instruments)
	if err != nil {
		return fmt.Errorf("marshal workcell instruments: %w", err)
	}
	if wc.CreatedAt.IsZero() {
		wc.CreatedAt = time.Now().UTC()
	}
	if wc.UpdatedAt.IsZero() {
		wc.UpdatedAt = wc.CreatedAt
	}

	query := s.rebind(`INSERT INTO workcells (` + workcellColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	_, err = s.db.ExecContext(ctx, query,
		wc.ID, wc.Name, wc.Description, string(instruments), wc.CreatedAt, wc.UpdatedAt)
	return s.wrapError("create workcell", err)
}

// GetWorkcell 获取工作单元
func (s *Store) GetWorkcell(ctx context.Context, id string) (*model.Workcell, error) {
	query := s.rebind(`SELECT ` + workcellColumns + ` FROM workcells WHERE id = $1`)
	wc, err := scanWorkcell(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, s.wrapError("get workcell", err)
	}
	return wc, nil
}

// ListWorkcells 列出工作单元
func (s *Store) ListWorkcells(ctx context.Context, opts storage.ListOptions) ([]*model.Workcell, error) {
	opts = opts.Normalize()
	query := s.rebind(`SELECT ` + workcellColumns + ` FROM workcells
		ORDER BY created_at DESC, id ASC LIMIT $1 OFFSET $2`)
	rows, err := s.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, s.wrapError("list workcells", err)
	}
	defer rows.Close()

	workcells := []*model.Workcell{}
	for rows.Next() {
		wc, err := scanWorkcell(rows)
		if err != nil {
			return nil, s.wrapError("scan workcell", err)
		}
		workcells = append(workcells, wc)
	}
	return workcells, rows.Err()
}

// UpdateWorkcell 更新工作单元
func (s *Store) UpdateWorkcell(ctx context.Context, wc *model.Workcell) error {
	instruments, err := json.Marshal(wc.Instruments)
	if err != nil {
		return fmt.Errorf("marshal workcell instruments: %w", err)
	}
	wc.UpdatedAt = time.Now().UTC()

	query := s.rebind(`UPDATE workcells SET name = $1, description = $2, instruments = $3, updated_at = $4
		WHERE id = $5`)
	res, err := s.db.ExecContext(ctx, query, wc.Name, wc.Description, string(instruments), wc.UpdatedAt, wc.ID)
	if err != nil {
		return s.wrapError("update workcell", err)
	}
	return expectAffected(res)
}

// DeleteWorkcell 删除工作单元
func (s *Store) DeleteWorkcell(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM workcells WHERE id = $1`), id)
	if err != nil {
		return s.wrapError("delete workcell", err)
	}
	return expectAffected(res)
}

func scanWorkcell(scanner rowScanner) (*model.Workcell, error) {
	wc := &model.Workcell{}
	var description *string
	var instruments []byte
	if err := scanner.Scan(&wc.ID, &wc.Name, &description, &instruments, &wc.CreatedAt, &wc.UpdatedAt); err != nil {
		return nil, err
	}
	if description != nil {
		wc.Description = *description
	}
	if len(instruments) > 0 {
		if err := json.Unmarshal(instruments, &wc.Instruments); err != nil {
			return nil, fmt.Errorf("decode workcell %s instruments: %w", wc.ID, err)
		}
	}
	if wc.Instruments == nil {
		wc.Instruments = map[string]model.InstrumentDriver{}
	}
	return wc, nil
}
