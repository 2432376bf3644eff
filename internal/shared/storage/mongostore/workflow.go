package mongostore

import (
	"context"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// WorkflowStore
// ============================================================================

func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}
	return insertOne(ctx, s.col(ColWorkflows), wf)
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return findOne[model.Workflow](ctx, s.col(ColWorkflows), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListWorkflows(ctx context.Context, opts storage.ListOptions) ([]*model.Workflow, error) {
	return findMany[model.Workflow](ctx, s.col(ColWorkflows), bson.D{}, pageOptions(opts))
}

func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	wf.UpdatedAt = time.Now().UTC()
	return updateFields(ctx, s.col(ColWorkflows), wf.ID, bson.D{
		{Key: "name", Value: wf.Name},
		{Key: "description", Value: wf.Description},
		{Key: "config", Value: wf.Config},
		{Key: "updated_at", Value: wf.UpdatedAt},
	})
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColWorkflows), id)
}
