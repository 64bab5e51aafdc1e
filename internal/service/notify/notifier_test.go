package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/clock"
	"github.com/uma-arai/sbcntr-booking/internal/eventbus"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/repository/repotest"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []model.Email
	err  map[string]error
}

func (m *fakeMailer) Send(ctx context.Context, email model.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err[email.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var to []string
	for _, e := range m.sent {
		to = append(to, e.To)
	}
	return to
}

type blockingMailer struct{ release chan struct{} }

func (m *blockingMailer) Send(ctx context.Context, email model.Email) error {
	<-m.release
	return nil
}

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newContext(t *testing.T) context.Context {
	t.Helper()
	ctx, seg := xray.BeginSegment(context.Background(), "notify-test")
	t.Cleanup(func() { seg.Close(nil) })
	return ctx
}

func change(status model.BookingStatus, recipients ...model.Recipient) model.StatusChange {
	return model.StatusChange{
		BookingID:  "booking1",
		Status:     status,
		ItemTitle:  "会議室A",
		StartDate:  now.Add(time.Hour),
		EndDate:    now.Add(3 * time.Hour),
		Recipients: recipients,
	}
}

func TestNotifier_NotifyStatusChange(t *testing.T) {
	alice := model.Recipient{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	bob := model.Recipient{ID: "bob", Name: "Bob"}

	tests := []struct {
		name        string
		change      model.StatusChange
		wantCreated int
		wantUsers   []string
		wantEmails  []string
	}{
		{
			name:        "重複した宛先は1件だけ作成",
			change:      change(model.BookingStatusAccepted, alice, bob, alice),
			wantCreated: 2,
			wantUsers:   []string{"alice", "bob"},
			wantEmails:  []string{"alice@example.com"},
		},
		{
			name:        "キャンセルはメールを送信",
			change:      change(model.BookingStatusCancelled, alice),
			wantCreated: 1,
			wantUsers:   []string{"alice"},
			wantEmails:  []string{"alice@example.com"},
		},
		{
			name:        "貸出中はメールを送信しない",
			change:      change(model.BookingStatusBorrowed, alice, bob),
			wantCreated: 2,
			wantUsers:   []string{"alice", "bob"},
		},
		{
			name:   "宛先なしは何もしない",
			change: change(model.BookingStatusDeclined),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repotest.NewStore()
			mailer := &fakeMailer{}
			bus := eventbus.New()
			defer bus.Close()
			live, unsubscribe := bus.Subscribe("", 8)
			defer unsubscribe()

			n := NewNotifier(store.NotificationsRepo(), bus, mailer, clock.NewFake(now), "no-reply@example.com")
			created, err := n.NotifyStatusChange(newContext(t), tt.change)
			n.Wait()
			if err != nil {
				t.Fatalf("NotifyStatusChange() error = %v", err)
			}
			if created != tt.wantCreated {
				t.Errorf("created = %d, want %d", created, tt.wantCreated)
			}

			records := store.Notifications()
			if len(records) != len(tt.wantUsers) {
				t.Fatalf("records = %+v, want users %v", records, tt.wantUsers)
			}
			for i, rec := range records {
				if rec.UserID != tt.wantUsers[i] {
					t.Errorf("records[%d].UserID = %s, want %s", i, rec.UserID, tt.wantUsers[i])
				}
				msg, err := model.DecodeMessage(rec.Message)
				if err != nil {
					t.Fatal(err)
				}
				if msg.Key != model.MessageKeyFor(tt.change.Status) {
					t.Errorf("message key = %s", msg.Key)
				}
				if !rec.CreatedAt.Equal(now) || rec.BookingID == nil || *rec.BookingID != "booking1" {
					t.Errorf("record = %+v", rec)
				}
			}
			if len(live) != len(tt.wantUsers) {
				t.Errorf("published %d notifications, want %d", len(live), len(tt.wantUsers))
			}

			if got := mailer.recipients(); strings.Join(got, ",") != strings.Join(tt.wantEmails, ",") {
				t.Errorf("emails = %v, want %v", got, tt.wantEmails)
			}
		})
	}
}

func TestNotifier_FailuresAreIsolated(t *testing.T) {
	store := repotest.NewStore()
	store.NotificationErr["broken"] = errors.New("insert failed")
	mailer := &fakeMailer{err: map[string]error{"alice@example.com": errors.New("smtp down")}}
	bus := eventbus.New()
	defer bus.Close()

	n := NewNotifier(store.NotificationsRepo(), bus, mailer, clock.NewFake(now), "no-reply@example.com")
	created, err := n.NotifyStatusChange(newContext(t), change(model.BookingStatusAccepted,
		model.Recipient{ID: "alice", Email: "alice@example.com"},
		model.Recipient{ID: "broken", Email: "broken@example.com"},
		model.Recipient{ID: "carol", Email: "carol@example.com"},
	))
	n.Wait()

	if err != nil {
		t.Fatalf("NotifyStatusChange() error = %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
	if got := mailer.recipients(); len(got) != 1 || got[0] != "carol@example.com" {
		t.Errorf("emails = %v, want [carol@example.com]", got)
	}
}

func TestNotifier_MalformedEmailOnlySkipsEmail(t *testing.T) {
	tests := []struct {
		name      string
		itemTitle string
	}{
		{"アイテム名あり", "会議室A"},
		{"アイテム名が空でも通知は作成", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repotest.NewStore()
			mailer := &fakeMailer{}
			bus := eventbus.New()
			defer bus.Close()

			c := change(model.BookingStatusCancelled,
				model.Recipient{ID: "owner", Email: "owner@example.com"},
				model.Recipient{ID: "staff", Email: "staff at example"},
			)
			c.ItemTitle = tt.itemTitle

			n := NewNotifier(store.NotificationsRepo(), bus, mailer, clock.NewFake(now), "no-reply@example.com")
			created, err := n.NotifyStatusChange(newContext(t), c)
			n.Wait()

			if err != nil {
				t.Fatalf("NotifyStatusChange() error = %v", err)
			}
			if created != 2 {
				t.Errorf("created = %d, want 2", created)
			}
			records := store.Notifications()
			if len(records) != 2 || records[0].UserID != "owner" || records[1].UserID != "staff" {
				t.Errorf("records = %+v, want owner and staff", records)
			}
			if got := mailer.recipients(); len(got) != 1 || got[0] != "owner@example.com" {
				t.Errorf("emails = %v, want [owner@example.com]", got)
			}
		})
	}
}

func TestNotifier_AllFailed(t *testing.T) {
	store := repotest.NewStore()
	store.NotificationErr["alice"] = errors.New("insert failed")
	n := NewNotifier(store.NotificationsRepo(), eventbus.New(), &fakeMailer{}, clock.NewFake(now), "")

	if _, err := n.NotifyStatusChange(newContext(t), change(model.BookingStatusBorrowed, model.Recipient{ID: "alice"})); err == nil {
		t.Error("expected error when every recipient failed")
	}
}

func TestNotifier_DoesNotWaitForEmail(t *testing.T) {
	store := repotest.NewStore()
	mailer := &blockingMailer{release: make(chan struct{})}
	n := NewNotifier(store.NotificationsRepo(), eventbus.New(), mailer, clock.NewFake(now), "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := n.NotifyStatusChange(newContext(t), change(model.BookingStatusAccepted, model.Recipient{ID: "alice", Email: "alice@example.com"})); err != nil {
			t.Errorf("NotifyStatusChange() error = %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyStatusChange waited for the email")
	}
	close(mailer.release)
	n.Wait()
}

func TestNotifier_Validation(t *testing.T) {
	n := NewNotifier(repotest.NewStore().NotificationsRepo(), eventbus.New(), &fakeMailer{}, clock.NewFake(now), "")

	invalid := change(model.BookingStatusAccepted)
	invalid.BookingID = ""
	if _, err := n.NotifyStatusChange(newContext(t), invalid); !apperror.Is(err, apperror.KindValidationFailed) {
		t.Errorf("missing booking id error = %v", err)
	}

	unknown := change("LOST")
	if _, err := n.NotifyStatusChange(newContext(t), unknown); !apperror.Is(err, apperror.KindValidationFailed) {
		t.Errorf("unknown status error = %v", err)
	}
}

func TestBuildEmail(t *testing.T) {
	notes := "<b>鍵は受付で受け取ってください</b>"
	c := change(model.BookingStatusAccepted)
	c.Notes = &notes
	email, err := BuildEmail(c, model.Recipient{ID: "alice", Email: "alice@example.com", Name: "Alice"}, "no-reply@example.com")
	if err != nil {
		t.Fatalf("BuildEmail() error = %v", err)
	}
	if email.Subject != "Your booking for 会議室A has been accepted" {
		t.Errorf("Subject = %q", email.Subject)
	}
	if !strings.Contains(email.TextBody, "Hello Alice") || !strings.Contains(email.TextBody, notes) {
		t.Errorf("TextBody = %q", email.TextBody)
	}
	if strings.Contains(email.HTMLBody, "<b>") {
		t.Errorf("HTMLBody should escape notes: %q", email.HTMLBody)
	}
	if email.To != "alice@example.com" || email.From != "no-reply@example.com" || email.BookingID != "booking1" {
		t.Errorf("email = %+v", email)
	}

	if _, err := BuildEmail(change(model.BookingStatusBorrowed), model.Recipient{ID: "alice"}, ""); err == nil {
		t.Error("expected error for status without email")
	}
}
