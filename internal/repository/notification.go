package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// NotificationRepository は通知の永続化を担当するインターフェースです
type NotificationRepository interface {
	Create(ctx context.Context, record *model.NotificationRecord) error
	GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error)
	MarkRead(ctx context.Context, id string) error
}

// NotificationRepositoryImpl は通知の永続化を担当します
type NotificationRepositoryImpl struct {
	db *DB
}

// NewNotificationRepository は新しいNotificationRepositoryを作成します
func NewNotificationRepository(db *DB) *NotificationRepositoryImpl {
	return &NotificationRepositoryImpl{
		db: db,
	}
}

// Create は単一の通知レコードを作成します
// 宛先ごとに独立して失敗できるよう、トランザクションは使いません
func (r *NotificationRepositoryImpl) Create(ctx context.Context, record *model.NotificationRecord) error {
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationRepository.Create")
	defer tracing.Close(seg, nil)

	query := `
		INSERT INTO notifications (
			id, user_id, booking_id, type, message, is_read, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err := r.db.ExecContext(ctx,
		query,
		record.ID,
		record.UserID,
		record.BookingID,
		record.Type,
		record.Message,
		record.IsRead,
		record.CreatedAt,
	)
	if err != nil {
		tracing.Close(seg, err)
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetByUserID は指定されたユーザーIDの通知を新しい順に取得します
func (r *NotificationRepositoryImpl) GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationRepository.GetByUserID")
	defer tracing.Close(seg, nil)

	query := `
		SELECT id, user_id, booking_id, type, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var records []model.NotificationRecord
	for rows.Next() {
		var record model.NotificationRecord
		if err := rows.StructScan(&record); err != nil {
			tracing.Close(seg, err)
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return records, nil
}

// MarkRead は通知を既読にします
// 通知に対して許可される更新はこれだけです
func (r *NotificationRepositoryImpl) MarkRead(ctx context.Context, id string) error {
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationRepository.MarkRead")
	defer tracing.Close(seg, nil)

	query := `
		UPDATE notifications
		SET is_read = TRUE
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		tracing.Close(seg, err)
		return fmt.Errorf("failed to update notification is_read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tracing.Close(seg, err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperror.NotFound("notification %s not found", id)
	}

	return nil
}
