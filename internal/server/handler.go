package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/service/batch"
	"github.com/uma-arai/sbcntr-booking/internal/service/booking"
	"github.com/uma-arai/sbcntr-booking/internal/service/notify"
)

// HeaderActorID は操作したユーザーを監査ログに残すためのヘッダーです
const HeaderActorID = "X-Actor-ID"

func actor(c echo.Context) string {
	if id := c.Request().Header.Get(HeaderActorID); id != "" {
		return id
	}
	return "api"
}

// bind はリクエストボディを読み込んで検証します
func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperror.ValidationFailed("invalid request body")
	}
	return c.Validate(dst)
}

type cronHandler struct {
	scheduler Scheduler
}

// run はスケジュールのジョブを実行し、結果をそのまま返します
// すべて成功した場合は200、1つでも失敗した場合は500です
func (h *cronHandler) run(schedule string) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobs, err := h.scheduler.Schedule(schedule)
		if err != nil {
			return err
		}
		report := batch.RunJobs(c.Request().Context(), jobs)
		status := http.StatusOK
		if !report.OK {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, report)
	}
}

type availabilityHandler struct {
	svc AvailabilityService
}

// GET /api/items/:id/availability?from=&to=
func (h *availabilityHandler) query(c echo.Context) error {
	from, err := time.Parse(time.RFC3339, c.QueryParam("from"))
	if err != nil {
		return apperror.ValidationFailed("from must be an RFC3339 timestamp")
	}
	to, err := time.Parse(time.RFC3339, c.QueryParam("to"))
	if err != nil {
		return apperror.ValidationFailed("to must be an RFC3339 timestamp")
	}

	views, err := h.svc.Query(c.Request().Context(), c.Param("id"), model.Interval{Start: from.UTC(), End: to.UTC()})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, views)
}

type bookingHandler struct {
	svc BookingService
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// POST /api/bookings
func (h *bookingHandler) create(c echo.Context) error {
	var req booking.CreateInput
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.Create(c.Request().Context(), req, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

// POST /api/bookings/blocks
func (h *bookingHandler) createBlock(c echo.Context) error {
	var req booking.CreateInput
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.CreateCapacityBlock(c.Request().Context(), req, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

// PUT /api/bookings/:id/schedule
func (h *bookingHandler) reschedule(c echo.Context) error {
	var req booking.RescheduleInput
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.Reschedule(c.Request().Context(), c.Param("id"), req, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *bookingHandler) accept(c echo.Context) error {
	return respond(c)(h.svc.Accept(c.Request().Context(), c.Param("id"), actor(c)))
}

func (h *bookingHandler) borrow(c echo.Context) error {
	return respond(c)(h.svc.Borrow(c.Request().Context(), c.Param("id"), actor(c)))
}

func (h *bookingHandler) complete(c echo.Context) error {
	return respond(c)(h.svc.Complete(c.Request().Context(), c.Param("id"), actor(c)))
}

func (h *bookingHandler) decline(c echo.Context) error {
	reason, err := optionalReason(c)
	if err != nil {
		return err
	}
	return respond(c)(h.svc.Decline(c.Request().Context(), c.Param("id"), actor(c), reason))
}

func (h *bookingHandler) cancel(c echo.Context) error {
	reason, err := optionalReason(c)
	if err != nil {
		return err
	}
	return respond(c)(h.svc.Cancel(c.Request().Context(), c.Param("id"), actor(c), reason))
}

// GET /api/users/:id/bookings
func (h *bookingHandler) listForUser(c echo.Context) error {
	bookings, err := h.svc.ListForUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bookings)
}

// optionalReason は本文がある場合だけ理由を読み込みます
func optionalReason(c echo.Context) (string, error) {
	if c.Request().ContentLength == 0 {
		return "", nil
	}
	var req reasonRequest
	if err := bind(c, &req); err != nil {
		return "", err
	}
	return req.Reason, nil
}

func respond(c echo.Context) func(*model.Booking, error) error {
	return func(b *model.Booking, err error) error {
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, b)
	}
}

type notificationHandler struct {
	notifier notify.StatusNotifier
	inbox    InboxService
}

// POST /api/notifications/booking-status
func (h *notificationHandler) bookingStatus(c echo.Context) error {
	var req model.StatusChange
	if err := bind(c, &req); err != nil {
		return err
	}
	created, err := h.notifier.NotifyStatusChange(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "created": created})
}

// GET /api/users/:id/notifications
func (h *notificationHandler) list(c echo.Context) error {
	records, err := h.inbox.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

// PATCH /api/notifications/:id/read
func (h *notificationHandler) markRead(c echo.Context) error {
	if err := h.inbox.MarkRead(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
