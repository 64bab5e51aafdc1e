// Package availability は品目の在庫と予約期間の重なりから予約可否を判定します
package availability

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/repository"
)

// Resolver は在庫の空き状況を判定します
type Resolver struct {
	bookings       repository.BookingRepository
	blockOnPending bool
}

// NewResolver は新しいResolverを作成します
// blockOnPendingがtrueの場合は承認待ちの予約も在庫を消費しているとみなします
func NewResolver(bookings repository.BookingRepository, blockOnPending bool) *Resolver {
	return &Resolver{bookings: bookings, blockOnPending: blockOnPending}
}

// HoldingStatuses は在庫計算の対象となるステータスです
func (r *Resolver) HoldingStatuses() []model.BookingStatus {
	statuses := []model.BookingStatus{model.BookingStatusAccepted, model.BookingStatusBorrowed}
	if r.blockOnPending {
		statuses = append(statuses, model.BookingStatusRequested)
	}
	return statuses
}

// Exceeds は既存の予約に数量を追加すると在庫を超えるかを返します
// 区間内の時点ごとの最大値ではなく重なる予約すべての合計で判定します
func Exceeds(existing []model.Booking, quantity, total int) bool {
	sum := 0
	for _, b := range existing {
		sum += b.Quantity
	}
	return sum+quantity > total
}

// Check は品目に対して区間と数量の予約が可能かを確認します
// 予約の更新時はexcludeIDに自身のIDを指定します
// 同時実行を防ぐため、呼び出し側で品目の行ロックを取得したtxを渡してください
func (r *Resolver) Check(ctx context.Context, tx *sqlx.Tx, item *model.Item, interval model.Interval, quantity int, excludeID string) (err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Availability.Check")
	defer func() { tracing.Close(seg, err) }()

	if err := interval.Validate(); err != nil {
		return apperror.ValidationFailed("invalid interval: %v", err)
	}
	if quantity < 1 {
		return apperror.ValidationFailed("quantity must be at least 1, got %d", quantity)
	}

	overlapping, err := r.bookings.FindOverlapping(ctx, tx, item.ID, interval, r.HoldingStatuses(), excludeID)
	if err != nil {
		return fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	tracing.AddMetadata(seg, "overlapping", len(overlapping))

	if Exceeds(overlapping, quantity, item.TotalQuantity) {
		used := 0
		for _, b := range overlapping {
			used += b.Quantity
		}
		return apperror.CapacityExceeded("item %s has %d of %d reserved in the requested period, cannot add %d",
			item.ID, used, item.TotalQuantity, quantity)
	}
	return nil
}

// Query は区間と重なる予約を表示用に返します
func (r *Resolver) Query(ctx context.Context, itemID string, interval model.Interval) (views []model.BookingView, err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Availability.Query")
	defer func() { tracing.Close(seg, err) }()

	if err := interval.Validate(); err != nil {
		return nil, apperror.ValidationFailed("invalid interval: %v", err)
	}

	bookings, err := r.bookings.ListInRange(ctx, itemID, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings in range: %w", err)
	}

	views = make([]model.BookingView, 0, len(bookings))
	for _, b := range bookings {
		views = append(views, b.View())
	}
	return views, nil
}
