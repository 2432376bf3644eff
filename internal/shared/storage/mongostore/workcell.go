package mongostore

import (
	"context"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// WorkcellStore
// ============================================================================

func (s *Store) CreateWorkcell(ctx context.Context, wc *model.Workcell) error {
	if wc.CreatedAt.IsZero() {
		wc.CreatedAt = time.Now().UTC()
	}
	if wc.UpdatedAt.IsZero() {
		wc.UpdatedAt = wc.CreatedAt
	}
	return insertOne(ctx, s.col(ColWorkcells), wc)
}

func (s *Store) GetWorkcell(ctx context.Context, id string) (*model.Workcell, error) {
	return findOne[model.Workcell](ctx, s.col(ColWorkcells), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListWorkcells(ctx context.Context, opts storage.ListOptions) ([]*model.Workcell, error) {
	return findMany[model.Workcell](ctx, s.col(ColWorkcells), bson.D{}, pageOptions(opts))
}

func (s *Store) UpdateWorkcell(ctx context.Context, wc *model.Workcell) error {
	wc.UpdatedAt = time.Now().UTC()
	return updateFields(ctx, s.col(ColWorkcells), wc.ID, bson.D{
		{Key: "name", Value: wc.Name},
		{Key: "description", Value: wc.Description},
		{Key: "instruments", Value: wc.Instruments},
		{Key: "updated_at", Value: wc.UpdatedAt},
	})
}

func (s *Store) DeleteWorkcell(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColWorkcells), id)
}
