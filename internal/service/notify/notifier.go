// Package notify は予約ステータスの変更を利用者へ通知します
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/clock"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/eventbus"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/repository"
)

// DefaultEmailTimeout は1通のメール送信にかける最大時間です
const DefaultEmailTimeout = 10 * time.Second

// StatusNotifier は予約ステータス変更を通知するインターフェースです
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, change model.StatusChange) (int, error)
}

// Notifier は通知レコードの作成、リアルタイム配信、メール送信を行います
type Notifier struct {
	repo         repository.NotificationRepository
	publisher    eventbus.Publisher
	mailer       Mailer
	clock        clock.Clock
	validate     *validator.Validate
	from         string
	emailTimeout time.Duration

	wg sync.WaitGroup
}

type Option func(*Notifier)

// WithEmailTimeout はメール送信のタイムアウトを変更します
func WithEmailTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.emailTimeout = d }
}

func NewNotifier(repo repository.NotificationRepository, publisher eventbus.Publisher, mailer Mailer, clk clock.Clock, from string, opts ...Option) *Notifier {
	n := &Notifier{
		repo:         repo,
		publisher:    publisher,
		mailer:       mailer,
		clock:        clk,
		validate:     validator.New(),
		from:         from,
		emailTimeout: DefaultEmailTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyStatusChange は重複を除いた宛先ごとに通知を作成し、作成できた件数を返します
// 1人の宛先への失敗は他の宛先の処理を妨げません
// すべての宛先で失敗した場合のみエラーを返します
func (n *Notifier) NotifyStatusChange(ctx context.Context, change model.StatusChange) (created int, err error) {
	ctx, seg := xray.BeginSubsegment(ctx, "Notifier.NotifyStatusChange")
	defer func() { tracing.Close(seg, err) }()

	if err := n.validate.StructCtx(ctx, change); err != nil {
		return 0, apperror.Wrap(apperror.KindValidationFailed, err, "invalid status change: %v", err)
	}
	if !change.Status.Valid() {
		return 0, apperror.ValidationFailed("unknown booking status %q", change.Status)
	}

	recipients := change.UniqueRecipients()
	tracing.AddMetadata(seg, "booking_id", change.BookingID)
	tracing.AddMetadata(seg, "recipients", len(recipients))

	var lastErr error
	for _, recipient := range recipients {
		record, err := change.ToNotificationRecord(uuid.NewString(), recipient, n.clock.Now())
		if err != nil {
			log.Printf("Failed to build notification for user %s (booking %s): %v", recipient.ID, change.BookingID, err)
			lastErr = err
			continue
		}
		if err := n.repo.Create(ctx, record); err != nil {
			log.Printf("Failed to create notification for user %s (booking %s): %v", recipient.ID, change.BookingID, err)
			lastErr = err
			continue
		}
		created++
		n.publisher.Publish(*record)

		if SendsEmail(change.Status) && recipient.Email != "" {
			// 不正なアドレスはメールだけをスキップし、通知レコードは残す
			if err := n.validate.Var(recipient.Email, "email"); err != nil {
				log.Printf("Skipping email to user %s (booking %s): invalid address %q", recipient.ID, change.BookingID, recipient.Email)
				continue
			}
			n.sendEmailAsync(change, recipient)
		}
	}

	if created == 0 && lastErr != nil {
		return 0, fmt.Errorf("failed to create any notification for booking %s: %w", change.BookingID, lastErr)
	}
	return created, nil
}

// sendEmailAsync はメールを呼び出し元とは独立して送信します
// 失敗はログに出力するだけで呼び出し元には返しません
func (n *Notifier) sendEmailAsync(change model.StatusChange, recipient model.Recipient) {
	email, err := BuildEmail(change, recipient, n.from)
	if err != nil {
		log.Printf("Failed to build email for booking %s: %v", change.BookingID, err)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Printf("Panic while sending email for booking %s: %v", change.BookingID, p)
			}
		}()

		// リクエストのキャンセルに巻き込まれないよう新しいcontextで送信する
		ctx, cancel := context.WithTimeout(context.Background(), n.emailTimeout)
		defer cancel()
		if err := n.mailer.Send(ctx, email); err != nil {
			log.Printf("Failed to send email to %s for booking %s: %v", recipient.ID, change.BookingID, err)
		}
	}()
}

// Wait は送信中のメールがすべて終わるまで待ちます
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Inbox は利用者の通知一覧と既読化を扱います
type Inbox struct {
	repo repository.NotificationRepository
}

func NewInbox(repo repository.NotificationRepository) *Inbox {
	return &Inbox{repo: repo}
}

func (i *Inbox) List(ctx context.Context, userID string) ([]model.NotificationRecord, error) {
	records, err := i.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if records == nil {
		records = []model.NotificationRecord{}
	}
	return records, nil
}

func (i *Inbox) MarkRead(ctx context.Context, id string) error {
	return i.repo.MarkRead(ctx, id)
}
