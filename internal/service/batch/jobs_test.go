package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-booking/internal/common/clock"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/repository/repotest"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []model.StatusChange
}

func (n *recordingNotifier) NotifyStatusChange(ctx context.Context, change model.StatusChange) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return len(change.UniqueRecipients()), nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}

func newJobs(t *testing.T) (context.Context, *repotest.Store, *recordingNotifier, *Jobs) {
	t.Helper()
	ctx, seg := xray.BeginSegment(context.Background(), "batch-test")
	t.Cleanup(func() { seg.Close(nil) })

	store := repotest.NewStore()
	store.AddItem(model.Item{ID: "item1", Title: "プロジェクター", TotalQuantity: 5})
	store.AddUser(model.User{ID: "owner", Name: "Owner"})
	store.AddUser(model.User{ID: "staff", Name: "Staff"})

	notifier := &recordingNotifier{}
	jobs := NewJobs(JobDependencies{
		Tx:       store,
		Bookings: store.Bookings(),
		Users:    store.Users(),
		Audit:    store.Audit(),
		Notifier: notifier,
		Clock:    clock.NewFake(now),
	})
	return ctx, store, notifier, jobs
}

func addBooking(store *repotest.Store, id string, status model.BookingStatus, start, end, updated time.Time) {
	assignee := "staff"
	store.AddBooking(model.Booking{
		ID: id, UserID: "owner", AssigneeID: &assignee, ItemID: "item1",
		StartDate: start, EndDate: end, Quantity: 1, Status: status,
		CreatedAt: updated, UpdatedAt: updated,
	})
}

func statusOf(t *testing.T, store *repotest.Store, id string) model.BookingStatus {
	t.Helper()
	b, ok := store.Booking(id)
	if !ok {
		t.Fatalf("booking %s not found", id)
	}
	return b.Status
}

func TestJobs_AutoBorrowIsIdempotent(t *testing.T) {
	ctx, store, notifier, jobs := newJobs(t)
	addBooking(store, "soon", model.BookingStatusAccepted, now.Add(15*time.Minute), now.Add(2*time.Hour), now)
	addBooking(store, "later", model.BookingStatusAccepted, now.Add(16*time.Minute), now.Add(2*time.Hour), now)
	addBooking(store, "pending", model.BookingStatusRequested, now.Add(5*time.Minute), now.Add(2*time.Hour), now)

	for i := 0; i < 2; i++ {
		if err := jobs.AutoBorrow(ctx); err != nil {
			t.Fatalf("run %d: AutoBorrow() error = %v", i, err)
		}
	}

	if got := statusOf(t, store, "soon"); got != model.BookingStatusBorrowed {
		t.Errorf("soon = %v, want BORROWED", got)
	}
	if got := statusOf(t, store, "later"); got != model.BookingStatusAccepted {
		t.Errorf("later = %v, want ACCEPTED", got)
	}
	if got := statusOf(t, store, "pending"); got != model.BookingStatusRequested {
		t.Errorf("pending = %v, want REQUESTED", got)
	}
	if n := notifier.count(); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
	change := notifier.changes[0]
	if change.BookingID != "soon" || change.Status != model.BookingStatusBorrowed || len(change.Recipients) != 2 {
		t.Errorf("change = %+v", change)
	}
	if entries := store.AuditEntries(); len(entries) != 1 || entries[0].Actor != "system:"+JobAutoBorrow {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestJobs_AutoCancelExpired(t *testing.T) {
	ctx, store, notifier, jobs := newJobs(t)
	addBooking(store, "expired-requested", model.BookingStatusRequested, now.Add(-3*time.Hour), now.Add(-time.Millisecond), now)
	addBooking(store, "expired-accepted", model.BookingStatusAccepted, now.Add(-3*time.Hour), now.Add(-time.Hour), now)
	addBooking(store, "ends-now", model.BookingStatusAccepted, now.Add(-3*time.Hour), now, now)
	addBooking(store, "future", model.BookingStatusRequested, now.Add(-3*time.Hour), now.Add(time.Hour), now)
	addBooking(store, "borrowed", model.BookingStatusBorrowed, now.Add(-3*time.Hour), now.Add(-time.Hour), now)

	if err := jobs.AutoCancelExpired(ctx); err != nil {
		t.Fatalf("AutoCancelExpired() error = %v", err)
	}

	want := map[string]model.BookingStatus{
		"expired-requested": model.BookingStatusCancelled,
		"expired-accepted":  model.BookingStatusCancelled,
		"ends-now":          model.BookingStatusAccepted,
		"future":            model.BookingStatusRequested,
		"borrowed":          model.BookingStatusBorrowed,
	}
	for id, status := range want {
		if got := statusOf(t, store, id); got != status {
			t.Errorf("%s = %v, want %v", id, got, status)
		}
	}
	if n := notifier.count(); n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}

	entries := store.AuditEntries()
	from := map[string]model.BookingStatus{}
	for _, e := range entries {
		from[e.BookingID] = e.FromStatus
	}
	if from["expired-requested"] != model.BookingStatusRequested || from["expired-accepted"] != model.BookingStatusAccepted {
		t.Errorf("audit from statuses = %v", from)
	}
}

func TestJobs_AutoCompleteStaleIsSilent(t *testing.T) {
	ctx, store, notifier, jobs := newJobs(t)
	addBooking(store, "stale", model.BookingStatusBorrowed, now.Add(-20*24*time.Hour), now.Add(-15*24*time.Hour), now.Add(-StaleBorrowAge))
	addBooking(store, "recent", model.BookingStatusBorrowed, now.Add(-20*24*time.Hour), now.Add(-15*24*time.Hour), now.Add(-StaleBorrowAge+time.Second))

	if err := jobs.AutoCompleteStale(ctx); err != nil {
		t.Fatalf("AutoCompleteStale() error = %v", err)
	}
	if got := statusOf(t, store, "stale"); got != model.BookingStatusCompleted {
		t.Errorf("stale = %v, want COMPLETED", got)
	}
	if got := statusOf(t, store, "recent"); got != model.BookingStatusBorrowed {
		t.Errorf("recent = %v, want BORROWED", got)
	}
	if n := notifier.count(); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestJobs_PurgeOldBookingsBoundary(t *testing.T) {
	ctx, store, _, jobs := newJobs(t)
	cutoff := now.Add(-BookingRetention)
	addBooking(store, "before", model.BookingStatusCompleted, cutoff.Add(-time.Hour), cutoff.Add(-time.Millisecond), now)
	addBooking(store, "exact", model.BookingStatusCompleted, cutoff.Add(-time.Hour), cutoff, now)
	addBooking(store, "after", model.BookingStatusCompleted, cutoff.Add(-time.Hour), cutoff.Add(time.Millisecond), now)

	if err := jobs.PurgeOldBookings(ctx); err != nil {
		t.Fatalf("PurgeOldBookings() error = %v", err)
	}
	if _, ok := store.Booking("before"); ok {
		t.Error("booking ending 1ms before the cutoff should be deleted")
	}
	if _, ok := store.Booking("exact"); !ok {
		t.Error("booking ending exactly at the cutoff should be retained")
	}
	if _, ok := store.Booking("after"); !ok {
		t.Error("booking ending 1ms after the cutoff should be retained")
	}
}

func TestJobs_PurgeInactiveUsers(t *testing.T) {
	ctx, store, _, jobs := newJobs(t)
	old := now.Add(-UserInactivityLimit - time.Hour)
	recent := now.Add(-time.Hour)
	store.AddUser(model.User{ID: "gone", LastLoginAt: &old})
	store.AddUser(model.User{ID: "active", LastLoginAt: &recent})
	store.AddUser(model.User{ID: "never"})
	store.AddBooking(model.Booking{ID: "gone-booking", UserID: "gone", ItemID: "item1", StartDate: now, EndDate: now.Add(time.Hour), Quantity: 1, Status: model.BookingStatusRequested})
	store.AddBooking(model.Booking{ID: "active-booking", UserID: "active", ItemID: "item1", StartDate: now, EndDate: now.Add(time.Hour), Quantity: 1, Status: model.BookingStatusRequested})

	if err := jobs.PurgeInactiveUsers(ctx); err != nil {
		t.Fatalf("PurgeInactiveUsers() error = %v", err)
	}
	if store.HasUser("gone") {
		t.Error("inactive user should be deleted")
	}
	if _, ok := store.Booking("gone-booking"); ok {
		t.Error("inactive user's booking should be deleted")
	}
	if !store.HasUser("active") || !store.HasUser("never") {
		t.Error("active and never-logged-in users should be retained")
	}
	if _, ok := store.Booking("active-booking"); !ok {
		t.Error("active user's booking should be retained")
	}
}

func TestJobs_NoMatchesIsNoop(t *testing.T) {
	ctx, store, notifier, jobs := newJobs(t)
	for name, job := range jobs.All() {
		if err := job.Run(ctx); err != nil {
			t.Errorf("%s with no matches error = %v", name, err)
		}
	}
	if len(store.AuditEntries()) != 0 || notifier.count() != 0 {
		t.Error("no-op jobs should not write anything")
	}
}

func TestJobs_AuditFailureLeavesBookingsUntouched(t *testing.T) {
	ctx, store, notifier, jobs := newJobs(t)
	addBooking(store, "soon", model.BookingStatusAccepted, now.Add(time.Minute), now.Add(time.Hour), now)
	store.AuditErr = errors.New("audit unavailable")

	if err := jobs.AutoBorrow(ctx); err == nil {
		t.Fatal("AutoBorrow() should fail when audit fails")
	}
	if got := statusOf(t, store, "soon"); got != model.BookingStatusAccepted {
		t.Errorf("soon = %v, want ACCEPTED after rollback", got)
	}
	if notifier.count() != 0 {
		t.Error("failed job should not notify")
	}
}

func TestJobs_Schedule(t *testing.T) {
	_, _, _, jobs := newJobs(t)
	tests := []struct {
		schedule string
		want     []string
	}{
		{ScheduleMorning, []string{JobAutoCancelExpired, JobAutoBorrow, JobAutoCompleteStale}},
		{ScheduleEvening, []string{JobAutoBorrow, JobAutoCancelExpired, JobPurgeOldBookings, JobPurgeInactiveUsers}},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			got, err := jobs.Schedule(tt.schedule)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("jobs = %d, want %d", len(got), len(tt.want))
			}
			for i, job := range got {
				if job.Name != tt.want[i] {
					t.Errorf("jobs[%d] = %s, want %s", i, job.Name, tt.want[i])
				}
			}
		})
	}

	if _, err := jobs.Schedule("midnight"); err == nil {
		t.Error("unknown schedule should fail")
	}
	if selected, err := jobs.Select("", []string{JobPurgeOldBookings}); err != nil || len(selected) != 1 {
		t.Errorf("Select() = %v, %v", selected, err)
	}
	if _, err := jobs.Select("", []string{"unknown"}); err == nil {
		t.Error("unknown job should fail")
	}
}
