package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// BookingRepository は予約の永続化を担当するインターフェースです
type BookingRepository interface {
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Booking, error)
	Create(ctx context.Context, tx *sqlx.Tx, booking *model.Booking) error
	UpdateSchedule(ctx context.Context, tx *sqlx.Tx, id string, interval model.Interval, quantity int, at time.Time) error
	FindOverlapping(ctx context.Context, tx *sqlx.Tx, itemID string, interval model.Interval, statuses []model.BookingStatus, excludeID string) ([]model.Booking, error)
	ListInRange(ctx context.Context, itemID string, interval model.Interval) ([]model.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]model.Booking, error)
	FindAcceptedStartingBy(ctx context.Context, t time.Time) ([]model.Booking, error)
	FindOpenEndedBefore(ctx context.Context, t time.Time) ([]model.Booking, error)
	FindBorrowedUpdatedBy(ctx context.Context, t time.Time) ([]model.Booking, error)
	FindEndedBefore(ctx context.Context, t time.Time) ([]string, error)
	TransitionStatus(ctx context.Context, tx *sqlx.Tx, ids []string, from []model.BookingStatus, to model.BookingStatus, at time.Time) ([]string, error)
	DeleteByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) (int64, error)
	DeleteByUserIDs(ctx context.Context, tx *sqlx.Tx, userIDs []string) (int64, error)
}

// 予約の参照系クエリで共通して取得するカラム
const bookingColumns = `
	b.id,
	b.user_id,
	b.assignee_id,
	b.item_id,
	b.start_date,
	b.end_date,
	b.quantity,
	b.status,
	b.notes,
	b.created_at,
	b.updated_at,
	i.title AS item_title`

const bookingFrom = `
	FROM bookings b
	JOIN items i ON i.id = b.item_id`

type BookingRepositoryImpl struct {
	db *DB
}

func NewBookingRepository(db *DB) *BookingRepositoryImpl {
	return &BookingRepositoryImpl{db: db}
}

func statusStrings(statuses []model.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// GetByID は指定されたIDの予約を取得します
func (r *BookingRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.GetByID")
	defer tracing.Close(seg, nil)

	query := `SELECT` + bookingColumns + bookingFrom + `
		WHERE b.id = $1`

	var booking model.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("booking %s not found", id)
		}
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to get booking %s: %w", id, err)
	}
	return &booking, nil
}

// GetByIDForUpdate は予約を行ロック付きで取得します
func (r *BookingRepositoryImpl) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Booking, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.GetByIDForUpdate")
	defer tracing.Close(seg, nil)

	query := `SELECT` + bookingColumns + bookingFrom + `
		WHERE b.id = $1
		FOR UPDATE OF b`

	var booking model.Booking
	if err := r.db.querier(tx).GetContext(ctx, &booking, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("booking %s not found", id)
		}
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to lock booking %s: %w", id, err)
	}
	return &booking, nil
}

// Create は予約を作成します
func (r *BookingRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, booking *model.Booking) error {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.Create")
	defer tracing.Close(seg, nil)

	query := `
		INSERT INTO bookings (
			id,
			user_id,
			assignee_id,
			item_id,
			start_date,
			end_date,
			quantity,
			status,
			notes,
			created_at,
			updated_at
		) VALUES (
			:id,
			:user_id,
			:assignee_id,
			:item_id,
			:start_date,
			:end_date,
			:quantity,
			:status,
			:notes,
			:created_at,
			:updated_at
		)`

	if _, err := sqlx.NamedExecContext(ctx, r.db.querier(tx), query, booking); err != nil {
		tracing.Close(seg, err)
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// UpdateSchedule は予約の期間と数量を更新します
func (r *BookingRepositoryImpl) UpdateSchedule(ctx context.Context, tx *sqlx.Tx, id string, interval model.Interval, quantity int, at time.Time) error {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.UpdateSchedule")
	defer tracing.Close(seg, nil)

	query := `
		UPDATE bookings
		SET start_date = $1,
			end_date = $2,
			quantity = $3,
			updated_at = $4
		WHERE id = $5`

	result, err := r.db.querier(tx).ExecContext(ctx, query, interval.Start, interval.End, quantity, at, id)
	if err != nil {
		tracing.Close(seg, err)
		return fmt.Errorf("failed to update booking schedule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tracing.Close(seg, err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("booking %s not found", id)
	}
	return nil
}

// FindOverlapping は指定された区間と重なる予約を取得します
// 半開区間 [start_date, end_date) と [$2, $3) は start_date < $3 AND $2 < end_date のときに重なります
func (r *BookingRepositoryImpl) FindOverlapping(ctx context.Context, tx *sqlx.Tx, itemID string, interval model.Interval, statuses []model.BookingStatus, excludeID string) ([]model.Booking, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.FindOverlapping")
	defer tracing.Close(seg, nil)

	query := `SELECT` + bookingColumns + bookingFrom + `
		WHERE b.item_id = $1
		AND b.start_date < $3
		AND $2 < b.end_date
		AND b.status = ANY($4)
		AND ($5 = '' OR b.id <> $5)
		ORDER BY b.start_date ASC, b.id ASC`

	var bookings []model.Booking
	if err := r.db.querier(tx).SelectContext(ctx, &bookings, query,
		itemID, interval.Start, interval.End, pq.Array(statusStrings(statuses)), excludeID,
	); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to query overlapping bookings: %w", err)
	}
	return bookings, nil
}

// ListInRange は空き状況の表示用に区間と重なる有効な予約を開始日時順に取得します
func (r *BookingRepositoryImpl) ListInRange(ctx context.Context, itemID string, interval model.Interval) ([]model.Booking, error) {
	return r.FindOverlapping(ctx, nil, itemID, interval, []model.BookingStatus{
		model.BookingStatusRequested,
		model.BookingStatusAccepted,
		model.BookingStatusBorrowed,
	}, "")
}

// ListByUser は利用者の予約一覧を取得します
// 在庫確保用の予約は利用者に見せないため除外します
func (r *BookingRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.ListByUser")
	defer tracing.Close(seg, nil)

	query := `SELECT` + bookingColumns + bookingFrom + `
		WHERE b.user_id = $1
		AND (b.notes IS NULL OR NOT starts_with(b.notes, $2))
		ORDER BY b.start_date DESC`

	var bookings []model.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, userID, model.CapacityBlockPrefix); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to query bookings of user %s: %w", userID, err)
	}
	return bookings, nil
}

// FindAcceptedStartingBy は開始日時がt以前の承認済み予約を取得します
func (r *BookingRepositoryImpl) FindAcceptedStartingBy(ctx context.Context, t time.Time) ([]model.Booking, error) {
	return r.findWhere(ctx, "BookingRepository.FindAcceptedStartingBy", `
		WHERE b.status = 'ACCEPTED'
		AND b.start_date <= $1`, t)
}

// FindOpenEndedBefore は終了日時がtより前の承認待ち・承認済み予約を取得します
func (r *BookingRepositoryImpl) FindOpenEndedBefore(ctx context.Context, t time.Time) ([]model.Booking, error) {
	return r.findWhere(ctx, "BookingRepository.FindOpenEndedBefore", `
		WHERE b.status IN ('REQUESTED', 'ACCEPTED')
		AND b.end_date < $1`, t)
}

// FindBorrowedUpdatedBy は最終更新がt以前の貸出中予約を取得します
func (r *BookingRepositoryImpl) FindBorrowedUpdatedBy(ctx context.Context, t time.Time) ([]model.Booking, error) {
	return r.findWhere(ctx, "BookingRepository.FindBorrowedUpdatedBy", `
		WHERE b.status = 'BORROWED'
		AND b.updated_at <= $1`, t)
}

func (r *BookingRepositoryImpl) findWhere(ctx context.Context, name, where string, t time.Time) ([]model.Booking, error) {
	ctx, seg := xray.BeginSubsegment(ctx, name)
	defer tracing.Close(seg, nil)

	query := `SELECT` + bookingColumns + bookingFrom + where + `
		ORDER BY b.start_date ASC`

	var bookings []model.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, t); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to scan bookings: %w", err)
	}
	tracing.AddMetadata(seg, "count", len(bookings))
	return bookings, nil
}

// FindEndedBefore は終了日時がtより前の予約IDを取得します
func (r *BookingRepositoryImpl) FindEndedBefore(ctx context.Context, t time.Time) ([]string, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.FindEndedBefore")
	defer tracing.Close(seg, nil)

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM bookings WHERE end_date < $1`, t); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to scan ended bookings: %w", err)
	}
	return ids, nil
}

// TransitionStatus は指定IDの予約のうち、現在のステータスがfromに含まれるものだけをtoに更新します
// 実際に更新された予約のIDを返します
func (r *BookingRepositoryImpl) TransitionStatus(ctx context.Context, tx *sqlx.Tx, ids []string, from []model.BookingStatus, to model.BookingStatus, at time.Time) ([]string, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.TransitionStatus")
	defer tracing.Close(seg, nil)

	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		UPDATE bookings
		SET status = $1,
			updated_at = $2
		WHERE id = ANY($3)
		AND status = ANY($4)
		RETURNING id`

	var updated []string
	if err := r.db.querier(tx).SelectContext(ctx, &updated, query,
		string(to), at, pq.Array(ids), pq.Array(statusStrings(from)),
	); err != nil {
		tracing.Close(seg, err)
		return nil, fmt.Errorf("failed to update booking status to %s: %w", to, err)
	}

	tracing.AddMetadata(seg, "requested", len(ids))
	tracing.AddMetadata(seg, "updated", len(updated))
	return updated, nil
}

// DeleteByIDs は指定IDの予約を物理削除します
func (r *BookingRepositoryImpl) DeleteByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) (int64, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.DeleteByIDs")
	defer tracing.Close(seg, nil)

	if len(ids) == 0 {
		return 0, nil
	}
	return r.execCount(ctx, seg, tx, `DELETE FROM bookings WHERE id = ANY($1)`, pq.Array(ids))
}

// DeleteByUserIDs は指定ユーザーが所有する予約を物理削除します
func (r *BookingRepositoryImpl) DeleteByUserIDs(ctx context.Context, tx *sqlx.Tx, userIDs []string) (int64, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BookingRepository.DeleteByUserIDs")
	defer tracing.Close(seg, nil)

	if len(userIDs) == 0 {
		return 0, nil
	}
	return r.execCount(ctx, seg, tx, `DELETE FROM bookings WHERE user_id = ANY($1)`, pq.Array(userIDs))
}

func (r *BookingRepositoryImpl) execCount(ctx context.Context, seg *xray.Segment, tx *sqlx.Tx, query string, args ...interface{}) (int64, error) {
	result, err := r.db.querier(tx).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.Close(seg, err)
		return 0, fmt.Errorf("failed to delete bookings: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tracing.Close(seg, err)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	tracing.AddMetadata(seg, "deleted", rowsAffected)
	return rowsAffected, nil
}
