package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// ItemRepository は予約対象の取得を担当するインターフェースです
type ItemRepository interface {
	GetByID(ctx context.Context, id string) (*model.Item, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Item, error)
}

type ItemRepositoryImpl struct {
	db *DB
}

func NewItemRepository(db *DB) *ItemRepositoryImpl {
	return &ItemRepositoryImpl{db: db}
}

// GetByID は指定されたIDの予約対象を取得します
func (r *ItemRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Item, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ItemRepository.GetByID")
	defer tracing.Close(seg, nil)

	return r.get(ctx, seg, r.db, `
		SELECT id, title, total_quantity, created_at, updated_at
		FROM items
		WHERE id = $1`, id)
}

// GetByIDForUpdate は予約対象の行をロックして取得します
// 同じ対象への在庫判定はこのロックで直列化されます
func (r *ItemRepositoryImpl) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Item, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ItemRepository.GetByIDForUpdate")
	defer tracing.Close(seg, nil)

	return r.get(ctx, seg, r.db.querier(tx), `
		SELECT id, title, total_quantity, created_at, updated_at
		FROM items
		WHERE id = $1
		FOR UPDATE`, id)
}

func (r *ItemRepositoryImpl) get(ctx context.Context, seg *xray.Segment, q Querier, query, id string) (*model.Item, error) {
	var item model.Item
	if err := q.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("item %s not found", id)
		}
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return &item, nil
}
