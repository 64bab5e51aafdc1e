package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// UserRepository はユーザー情報の永続化を担当するインターフェースです
type UserRepository interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
	FindInactiveSince(ctx context.Context, t time.Time) ([]string, error)
	DeleteByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) (int64, error)
}

type UserRepositoryImpl struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

// GetByIDs は指定されたIDのユーザーをまとめて取得します
func (r *UserRepositoryImpl) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "UserRepository.GetByIDs")
	defer tracing.Close(seg, nil)

	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, name, email, last_login_at, created_at
		FROM users
		WHERE id = ANY($1)`

	var users []model.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return users, nil
}

// FindInactiveSince は最終ログインがtより前のユーザーIDを取得します
// 一度もログインしていないユーザー(last_login_atがNULL)は対象外です
func (r *UserRepositoryImpl) FindInactiveSince(ctx context.Context, t time.Time) ([]string, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "UserRepository.FindInactiveSince")
	defer tracing.Close(seg, nil)

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE last_login_at < $1`, t); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to query inactive users: %w", err)
	}
	tracing.AddMetadata(seg, "count", len(ids))
	return ids, nil
}

// DeleteByIDs は指定IDのユーザーを削除します
func (r *UserRepositoryImpl) DeleteByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) (int64, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "UserRepository.DeleteByIDs")
	defer tracing.Close(seg, nil)

	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.querier(tx).ExecContext(ctx, `DELETE FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		tracing.Close(seg, err)
		return 0, fmt.Errorf("failed to delete users: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tracing.Close(seg, err)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
