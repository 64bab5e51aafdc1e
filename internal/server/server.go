// Package server は予約エンジンのHTTPインターフェースです
package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/service/batch"
	"github.com/uma-arai/sbcntr-booking/internal/service/booking"
	"github.com/uma-arai/sbcntr-booking/internal/service/notify"
)

// BookingService は予約の作成と遷移を行います
type BookingService interface {
	Create(ctx context.Context, in booking.CreateInput, actor string) (*model.Booking, error)
	CreateCapacityBlock(ctx context.Context, in booking.CreateInput, actor string) (*model.Booking, error)
	Reschedule(ctx context.Context, id string, in booking.RescheduleInput, actor string) (*model.Booking, error)
	Accept(ctx context.Context, id, actor string) (*model.Booking, error)
	Decline(ctx context.Context, id, actor, reason string) (*model.Booking, error)
	Cancel(ctx context.Context, id, actor, reason string) (*model.Booking, error)
	Borrow(ctx context.Context, id, actor string) (*model.Booking, error)
	Complete(ctx context.Context, id, actor string) (*model.Booking, error)
	ListForUser(ctx context.Context, userID string) ([]model.Booking, error)
}

// AvailabilityService は品目の空き状況を返します
type AvailabilityService interface {
	Query(ctx context.Context, itemID string, interval model.Interval) ([]model.BookingView, error)
}

// InboxService は利用者の通知一覧を扱います
type InboxService interface {
	List(ctx context.Context, userID string) ([]model.NotificationRecord, error)
	MarkRead(ctx context.Context, id string) error
}

// Scheduler はスケジュール名から実行するジョブを返します
type Scheduler interface {
	Schedule(name string) ([]batch.Job, error)
}

type Dependencies struct {
	Bookings      BookingService
	Availability  AvailabilityService
	Notifier      notify.StatusNotifier
	Inbox         InboxService
	Scheduler     Scheduler
	CronSecret    string
	TracingName   string
	EnableTracing bool
}

// New はルーティングとミドルウェアを設定したechoインスタンスを返します
func New(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = errorHandler

	registerMiddlewares(e, deps)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	cron := &cronHandler{scheduler: deps.Scheduler}
	cronGroup := e.Group("/api/cron", CronAuth(deps.CronSecret))
	for _, schedule := range []string{batch.ScheduleMorning, batch.ScheduleEvening} {
		cronGroup.GET("/"+schedule, cron.run(schedule))
		cronGroup.POST("/"+schedule, cron.run(schedule))
	}

	api := e.Group("/api")

	avail := &availabilityHandler{svc: deps.Availability}
	api.GET("/items/:id/availability", avail.query)

	b := &bookingHandler{svc: deps.Bookings}
	api.POST("/bookings", b.create)
	api.POST("/bookings/blocks", b.createBlock)
	api.POST("/bookings/:id/accept", b.accept)
	api.POST("/bookings/:id/decline", b.decline)
	api.POST("/bookings/:id/cancel", b.cancel)
	api.POST("/bookings/:id/borrow", b.borrow)
	api.POST("/bookings/:id/complete", b.complete)
	api.PUT("/bookings/:id/schedule", b.reschedule)
	api.GET("/users/:id/bookings", b.listForUser)

	n := &notificationHandler{notifier: deps.Notifier, inbox: deps.Inbox}
	api.POST("/notifications/booking-status", n.bookingStatus)
	api.GET("/users/:id/notifications", n.list)
	api.PATCH("/notifications/:id/read", n.markRead)

	return e
}

// errorHandler はエラーを {"error": message} の形式で返します
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := apperror.HTTPStatus(err)
	message := apperror.PublicMessage(err)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}

	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request().Method, c.Path(), err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, echo.Map{"error": message})
	}
	if err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}
