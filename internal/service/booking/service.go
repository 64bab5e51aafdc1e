// Package booking は予約の作成とステータス遷移を扱います
// 遷移はすべて1つのトランザクション内でステータス更新と監査ログの記録を行い、
// コミット後に関係者へ通知します
package booking

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/clock"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/repository"
	"github.com/uma-arai/sbcntr-booking/internal/service/availability"
	"github.com/uma-arai/sbcntr-booking/internal/service/notify"
)

// CreateInput は予約作成の入力です
type CreateInput struct {
	UserID     string    `json:"userId" validate:"required"`
	AssigneeID *string   `json:"assigneeId,omitempty"`
	ItemID     string    `json:"itemId" validate:"required"`
	StartDate  time.Time `json:"startDate" validate:"required"`
	EndDate    time.Time `json:"endDate" validate:"required"`
	Quantity   int       `json:"quantity" validate:"min=1"`
	Notes      *string   `json:"notes,omitempty"`
}

// RescheduleInput は予約期間と数量の変更の入力です
type RescheduleInput struct {
	StartDate time.Time `json:"startDate" validate:"required"`
	EndDate   time.Time `json:"endDate" validate:"required"`
	Quantity  int       `json:"quantity" validate:"min=1"`
}

type Dependencies struct {
	Tx       repository.Transactor
	Bookings repository.BookingRepository
	Items    repository.ItemRepository
	Users    repository.UserRepository
	Audit    repository.AuditRepository
	Resolver *availability.Resolver
	Notifier notify.StatusNotifier
	Clock    clock.Clock
}

type Service struct {
	tx       repository.Transactor
	bookings repository.BookingRepository
	items    repository.ItemRepository
	users    repository.UserRepository
	audit    repository.AuditRepository
	resolver *availability.Resolver
	notifier notify.StatusNotifier
	clock    clock.Clock
	validate *validator.Validate
}

func NewService(deps Dependencies) *Service {
	return &Service{
		tx:       deps.Tx,
		bookings: deps.Bookings,
		items:    deps.Items,
		users:    deps.Users,
		audit:    deps.Audit,
		resolver: deps.Resolver,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		validate: validator.New(),
	}
}

// Get は予約を1件取得します
func (s *Service) Get(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// ListForUser は利用者の予約一覧を返します
// 在庫確保用の予約は含みません
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Booking, error) {
	bookings, err := s.bookings.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings for user %s: %w", userID, err)
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	return bookings, nil
}

// Create は承認待ちの予約を作成します
func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (*model.Booking, error) {
	if in.Notes != nil && strings.HasPrefix(*in.Notes, model.CapacityBlockPrefix) {
		return nil, apperror.ValidationFailed("notes must not start with %s", model.CapacityBlockPrefix)
	}
	return s.create(ctx, "Booking.Create", in, model.BookingStatusRequested, actor)
}

// CreateCapacityBlock は管理者が在庫を確保するための予約を承認済みで作成します
// 利用者向けの一覧には表示されず、通知も行いません
func (s *Service) CreateCapacityBlock(ctx context.Context, in CreateInput, actor string) (*model.Booking, error) {
	notes := model.CapacityBlockPrefix
	if in.Notes != nil && *in.Notes != "" {
		notes += " " + strings.TrimPrefix(*in.Notes, model.CapacityBlockPrefix)
	}
	in.Notes = &notes
	return s.create(ctx, "Booking.CreateCapacityBlock", in, model.BookingStatusAccepted, actor)
}

func (s *Service) create(ctx context.Context, name string, in CreateInput, status model.BookingStatus, actor string) (booking *model.Booking, err error) {
	ctx, seg := xray.BeginSubsegment(ctx, name)
	defer func() { tracing.Close(seg, err) }()

	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, apperror.Wrap(apperror.KindValidationFailed, err, "invalid booking: %v", err)
	}
	interval := model.Interval{Start: in.StartDate, End: in.EndDate}
	if err := interval.Validate(); err != nil {
		return nil, apperror.ValidationFailed("invalid interval: %v", err)
	}
	if err := model.ValidateNotes(in.Notes); err != nil {
		return nil, apperror.ValidationFailed("%v", err)
	}

	now := s.clock.Now()
	booking = &model.Booking{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		AssigneeID: in.AssigneeID,
		ItemID:     in.ItemID,
		StartDate:  in.StartDate.UTC(),
		EndDate:    in.EndDate.UTC(),
		Quantity:   in.Quantity,
		Status:     status,
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		item, err := s.items.GetByIDForUpdate(ctx, tx, in.ItemID)
		if err != nil {
			return err
		}
		if in.Quantity > item.TotalQuantity {
			return apperror.CapacityExceeded("quantity %d exceeds total quantity %d of item %s",
				in.Quantity, item.TotalQuantity, item.ID)
		}
		if err := s.resolver.Check(ctx, tx, item, interval, in.Quantity, ""); err != nil {
			return err
		}
		if err := s.bookings.Create(ctx, tx, booking); err != nil {
			return err
		}
		booking.ItemTitle = item.Title
		return s.audit.Record(ctx, tx, []model.AuditEntry{
			newAuditEntry(booking.ID, "", status, actor, "created", now),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Booking %s created with status %s by %s", booking.ID, status, actor)
	return booking, nil
}

// Reschedule は承認待ちまたは承認済みの予約の期間と数量を変更します
func (s *Service) Reschedule(ctx context.Context, id string, in RescheduleInput, actor string) (booking *model.Booking, err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Booking.Reschedule")
	defer func() { tracing.Close(seg, err) }()

	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, apperror.Wrap(apperror.KindValidationFailed, err, "invalid schedule: %v", err)
	}
	interval := model.Interval{Start: in.StartDate.UTC(), End: in.EndDate.UTC()}
	if err := interval.Validate(); err != nil {
		return nil, apperror.ValidationFailed("invalid interval: %v", err)
	}

	now := s.clock.Now()
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.bookings.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !model.CanCancel(current.Status) {
			return apperror.PreconditionFailed("cannot reschedule booking %s in status %s", id, current.Status)
		}
		item, err := s.items.GetByIDForUpdate(ctx, tx, current.ItemID)
		if err != nil {
			return err
		}
		if err := s.resolver.Check(ctx, tx, item, interval, in.Quantity, current.ID); err != nil {
			return err
		}
		if err := s.bookings.UpdateSchedule(ctx, tx, id, interval, in.Quantity, now); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, []model.AuditEntry{
			newAuditEntry(id, current.Status, current.Status, actor, "rescheduled", now),
		}); err != nil {
			return err
		}

		current.StartDate, current.EndDate = interval.Start, interval.End
		current.Quantity = in.Quantity
		current.UpdatedAt = now
		booking = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *Service) Accept(ctx context.Context, id, actor string) (*model.Booking, error) {
	return s.transition(ctx, id, model.BookingStatusAccepted, actor, "")
}

func (s *Service) Decline(ctx context.Context, id, actor, reason string) (*model.Booking, error) {
	return s.transition(ctx, id, model.BookingStatusDeclined, actor, reason)
}

func (s *Service) Cancel(ctx context.Context, id, actor, reason string) (*model.Booking, error) {
	return s.transition(ctx, id, model.BookingStatusCancelled, actor, reason)
}

func (s *Service) Borrow(ctx context.Context, id, actor string) (*model.Booking, error) {
	return s.transition(ctx, id, model.BookingStatusBorrowed, actor, "")
}

func (s *Service) Complete(ctx context.Context, id, actor string) (*model.Booking, error) {
	return s.transition(ctx, id, model.BookingStatusCompleted, actor, "")
}

// transition は予約を1件toへ遷移させます
// 承認時は在庫を再確認します
func (s *Service) transition(ctx context.Context, id string, to model.BookingStatus, actor, reason string) (booking *model.Booking, err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Booking.Transition")
	defer func() { tracing.Close(seg, err) }()
	tracing.AddMetadata(seg, "booking_id", id)
	tracing.AddMetadata(seg, "to", to)

	now := s.clock.Now()
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.bookings.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(current.Status, to); err != nil {
			return err
		}

		if to == model.BookingStatusAccepted {
			item, err := s.items.GetByIDForUpdate(ctx, tx, current.ItemID)
			if err != nil {
				return err
			}
			if err := s.resolver.Check(ctx, tx, item, current.Interval(), current.Quantity, current.ID); err != nil {
				return err
			}
		}

		updated, err := s.bookings.TransitionStatus(ctx, tx, []string{id}, []model.BookingStatus{current.Status}, to, now)
		if err != nil {
			return err
		}
		if len(updated) == 0 {
			return apperror.PreconditionFailed("booking %s is no longer in status %s", id, current.Status)
		}
		if err := s.audit.Record(ctx, tx, []model.AuditEntry{
			newAuditEntry(id, current.Status, to, actor, reason, now),
		}); err != nil {
			return err
		}

		current.Status = to
		current.UpdatedAt = now
		booking = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Booking %s moved to %s by %s", id, to, actor)
	if !booking.IsCapacityBlock() {
		s.notifyParticipants(ctx, *booking)
	}
	return booking, nil
}

func checkTransition(from, to model.BookingStatus) error {
	if to == model.BookingStatusCancelled && !model.CanCancel(from) {
		return apperror.PreconditionFailed("cannot cancel booking in status %s", from)
	}
	if !model.CanTransition(from, to) {
		return apperror.PreconditionFailed("cannot move booking from status %s to %s", from, to)
	}
	return nil
}

// notifyParticipants は予約の所有者と担当者へ通知します
// 遷移はコミット済みのため、通知の失敗はログに出力するだけです
func (s *Service) notifyParticipants(ctx context.Context, b model.Booking) {
	recipients, err := Recipients(ctx, s.users, b)
	if err != nil {
		log.Printf("Failed to resolve recipients for booking %s: %v", b.ID, err)
		return
	}
	if _, err := s.notifier.NotifyStatusChange(ctx, model.NewStatusChange(b, recipients)); err != nil {
		log.Printf("Failed to notify status change of booking %s: %v", b.ID, err)
	}
}

// Recipients は予約の所有者と担当者を通知の宛先として返します
// 存在しないユーザーは含みません
func Recipients(ctx context.Context, users repository.UserRepository, b model.Booking) ([]model.Recipient, error) {
	found, err := users.GetByIDs(ctx, b.ParticipantIDs())
	if err != nil {
		return nil, err
	}
	recipients := make([]model.Recipient, 0, len(found))
	for _, u := range found {
		recipients = append(recipients, u.Recipient())
	}
	return recipients, nil
}

func newAuditEntry(bookingID string, from, to model.BookingStatus, actor, reason string, at time.Time) model.AuditEntry {
	return model.AuditEntry{
		ID:         uuid.NewString(),
		BookingID:  bookingID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
		CreatedAt:  at,
	}
}
