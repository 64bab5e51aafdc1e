// Package batch は時刻をもとに予約の状態を進める定期ジョブと、その実行・報告を扱います
// 各ジョブは「条件に一致するIDを取得してまとめて更新する」だけで構成されており、
// 何度実行しても、複数のトリガーから同時に実行されても同じ状態に収束します
package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-booking/internal/common/clock"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/repository"
	"github.com/uma-arai/sbcntr-booking/internal/service/booking"
	"github.com/uma-arai/sbcntr-booking/internal/service/notify"
)

const (
	JobAutoBorrow         = "auto-borrow"
	JobAutoCancelExpired  = "auto-cancel-expired"
	JobAutoCompleteStale  = "auto-complete-stale"
	JobPurgeOldBookings   = "purge-old-bookings"
	JobPurgeInactiveUsers = "purge-inactive-users"
)

const (
	// BorrowLeadTime は開始時刻のどれだけ前から貸出中にするかです
	BorrowLeadTime = 15 * time.Minute
	// StaleBorrowAge は貸出中のまま更新されない予約を返却済みとみなすまでの期間です
	StaleBorrowAge = 14 * 24 * time.Hour
	// BookingRetention は終了した予約を保持する期間です
	BookingRetention = 180 * 24 * time.Hour
	// UserInactivityLimit は最終ログインからユーザーを削除するまでの期間です
	UserInactivityLimit = 365 * 24 * time.Hour
)

type JobDependencies struct {
	Tx       repository.Transactor
	Bookings repository.BookingRepository
	Users    repository.UserRepository
	Audit    repository.AuditRepository
	Notifier notify.StatusNotifier
	Clock    clock.Clock
}

// Jobs は予約の定期ジョブです
type Jobs struct {
	tx       repository.Transactor
	bookings repository.BookingRepository
	users    repository.UserRepository
	audit    repository.AuditRepository
	notifier notify.StatusNotifier
	clock    clock.Clock
}

func NewJobs(deps JobDependencies) *Jobs {
	return &Jobs{
		tx:       deps.Tx,
		bookings: deps.Bookings,
		users:    deps.Users,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		clock:    deps.Clock,
	}
}

// AutoBorrow は開始が近づいた承認済みの予約を貸出中にし、関係者へ通知します
func (j *Jobs) AutoBorrow(ctx context.Context) error {
	now := j.clock.Now()
	return j.advance(ctx, JobAutoBorrow, model.BookingStatusBorrowed, true,
		func(ctx context.Context) ([]model.Booking, error) {
			return j.bookings.FindAcceptedStartingBy(ctx, now.Add(BorrowLeadTime))
		})
}

// AutoCancelExpired は終了時刻を過ぎても確定しなかった予約をキャンセルし、関係者へ通知します
func (j *Jobs) AutoCancelExpired(ctx context.Context) error {
	now := j.clock.Now()
	return j.advance(ctx, JobAutoCancelExpired, model.BookingStatusCancelled, true,
		func(ctx context.Context) ([]model.Booking, error) {
			return j.bookings.FindOpenEndedBefore(ctx, now)
		})
}

// AutoCompleteStale は長期間更新のない貸出中の予約を返却済みにします
// 通知は行いません
func (j *Jobs) AutoCompleteStale(ctx context.Context) error {
	now := j.clock.Now()
	return j.advance(ctx, JobAutoCompleteStale, model.BookingStatusCompleted, false,
		func(ctx context.Context) ([]model.Booking, error) {
			return j.bookings.FindBorrowedUpdatedBy(ctx, now.Add(-StaleBorrowAge))
		})
}

// advance は取得した予約をまとめてtoへ遷移させます
// 取得から更新までの間に遷移済みになった予約は更新されず、通知もされません
func (j *Jobs) advance(ctx context.Context, name string, to model.BookingStatus, notifyParticipants bool,
	find func(ctx context.Context) ([]model.Booking, error)) (err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Job."+name)
	defer func() { tracing.Close(seg, err) }()

	targets, err := find(ctx)
	if err != nil {
		return fmt.Errorf("failed to find bookings: %w", err)
	}
	if len(targets) == 0 {
		log.Printf("[%s] no bookings to update", name)
		return nil
	}

	byID := make(map[string]model.Booking, len(targets))
	ids := make([]string, 0, len(targets))
	for _, b := range targets {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	now := j.clock.Now()
	var updated []string
	err = j.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		updated, err = j.bookings.TransitionStatus(ctx, tx, ids, model.PredecessorsOf(to), to, now)
		if err != nil {
			return err
		}
		entries := make([]model.AuditEntry, 0, len(updated))
		for _, id := range updated {
			entries = append(entries, model.AuditEntry{
				ID:         uuid.NewString(),
				BookingID:  id,
				FromStatus: byID[id].Status,
				ToStatus:   to,
				Actor:      "system:" + name,
				Reason:     name,
				CreatedAt:  now,
			})
		}
		return j.audit.Record(ctx, tx, entries)
	})
	if err != nil {
		return fmt.Errorf("failed to move bookings to %s: %w", to, err)
	}

	tracing.AddMetadata(seg, "matched", len(targets))
	tracing.AddMetadata(seg, "updated", len(updated))
	log.Printf("[%s] moved %d of %d bookings to %s", name, len(updated), len(targets), to)

	if notifyParticipants {
		for _, id := range updated {
			b := byID[id]
			if b.IsCapacityBlock() {
				continue
			}
			b.Status = to
			j.notify(ctx, name, b)
		}
	}
	return nil
}

func (j *Jobs) notify(ctx context.Context, name string, b model.Booking) {
	recipients, err := booking.Recipients(ctx, j.users, b)
	if err != nil {
		log.Printf("[%s] failed to resolve recipients for booking %s: %v", name, b.ID, err)
		return
	}
	if _, err := j.notifier.NotifyStatusChange(ctx, model.NewStatusChange(b, recipients)); err != nil {
		log.Printf("[%s] failed to notify booking %s: %v", name, b.ID, err)
	}
}

// PurgeOldBookings は保持期間を過ぎた予約を削除します
func (j *Jobs) PurgeOldBookings(ctx context.Context) (err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Job."+JobPurgeOldBookings)
	defer func() { tracing.Close(seg, err) }()

	ids, err := j.bookings.FindEndedBefore(ctx, j.clock.Now().Add(-BookingRetention))
	if err != nil {
		return fmt.Errorf("failed to find old bookings: %w", err)
	}
	if len(ids) == 0 {
		log.Printf("[%s] no bookings to purge", JobPurgeOldBookings)
		return nil
	}

	var deleted int64
	err = j.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		deleted, err = j.bookings.DeleteByIDs(ctx, tx, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete old bookings: %w", err)
	}

	tracing.AddMetadata(seg, "deleted", deleted)
	log.Printf("[%s] deleted %d bookings", JobPurgeOldBookings, deleted)
	return nil
}

// PurgeInactiveUsers は長期間ログインしていないユーザーを予約ごと削除します
// 一度もログインしていないユーザーは対象外です
func (j *Jobs) PurgeInactiveUsers(ctx context.Context) (err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Job."+JobPurgeInactiveUsers)
	defer func() { tracing.Close(seg, err) }()

	userIDs, err := j.users.FindInactiveSince(ctx, j.clock.Now().Add(-UserInactivityLimit))
	if err != nil {
		return fmt.Errorf("failed to find inactive users: %w", err)
	}
	if len(userIDs) == 0 {
		log.Printf("[%s] no users to purge", JobPurgeInactiveUsers)
		return nil
	}

	var bookingsDeleted, usersDeleted int64
	err = j.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if bookingsDeleted, err = j.bookings.DeleteByUserIDs(ctx, tx, userIDs); err != nil {
			return err
		}
		usersDeleted, err = j.users.DeleteByIDs(ctx, tx, userIDs)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete inactive users: %w", err)
	}

	tracing.AddMetadata(seg, "users_deleted", usersDeleted)
	log.Printf("[%s] deleted %d users and %d bookings", JobPurgeInactiveUsers, usersDeleted, bookingsDeleted)
	return nil
}
