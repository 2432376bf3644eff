package mongostore

import (
	"context"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// RunStore
// ============================================================================

// UpsertRun 写入或更新 run；空的 workflow_id/workcell_id 不覆盖已有值
func (s *Store) UpsertRun(ctx context.Context, run *model.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	set := bson.D{
		{Key: "state", Value: run.State},
		{Key: "updated_at", Value: run.UpdatedAt},
	}
	if run.WorkflowID != "" {
		set = append(set, bson.E{Key: "workflow_id", Value: run.WorkflowID})
	}
	if run.WorkcellID != "" {
		set = append(set, bson.E{Key: "workcell_id", Value: run.WorkcellID})
	}

	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: run.CreatedAt}}},
	}
	_, err := s.col(ColRuns).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: run.ID}}, update, options.UpdateOne().SetUpsert(true))
	return wrapError(err)
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return findOne[model.Run](ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*model.Run, error) {
	q := bson.D{}
	if filter.WorkflowID != "" {
		q = append(q, bson.E{Key: "workflow_id", Value: filter.WorkflowID})
	}
	if filter.State != "" {
		q = append(q, bson.E{Key: "state", Value: filter.State})
	}
	return findMany[model.Run](ctx, s.col(ColRuns), q, pageOptions(filter.ListOptions))
}
