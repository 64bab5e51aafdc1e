package model

import (
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from BookingStatus
		to   BookingStatus
		want bool
	}{
		{BookingStatusRequested, BookingStatusAccepted, true},
		{BookingStatusRequested, BookingStatusDeclined, true},
		{BookingStatusRequested, BookingStatusCancelled, true},
		{BookingStatusRequested, BookingStatusBorrowed, false},
		{BookingStatusAccepted, BookingStatusBorrowed, true},
		{BookingStatusAccepted, BookingStatusCancelled, true},
		{BookingStatusAccepted, BookingStatusRequested, false},
		{BookingStatusBorrowed, BookingStatusCompleted, true},
		{BookingStatusBorrowed, BookingStatusCancelled, false},
		{BookingStatusDeclined, BookingStatusAccepted, false},
		{BookingStatusCompleted, BookingStatusBorrowed, false},
		{BookingStatusCancelled, BookingStatusRequested, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	terminal := map[BookingStatus]bool{
		BookingStatusDeclined:  true,
		BookingStatusCompleted: true,
		BookingStatusCancelled: true,
	}
	for _, s := range AllBookingStatuses {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, terminal[s])
		}
	}
	if BookingStatus("UNKNOWN").Valid() {
		t.Error("UNKNOWN should not be valid")
	}
}

func TestCanCancel(t *testing.T) {
	for _, s := range AllBookingStatuses {
		want := s == BookingStatusRequested || s == BookingStatusAccepted
		if got := CanCancel(s); got != want {
			t.Errorf("CanCancel(%s) = %v, want %v", s, got, want)
		}
		// 手動キャンセル可否は遷移グラフと一致する
		if CanCancel(s) != CanTransition(s, BookingStatusCancelled) {
			t.Errorf("CanCancel(%s) disagrees with transition graph", s)
		}
	}
}

func TestPredecessorsOf(t *testing.T) {
	got := PredecessorsOf(BookingStatusCancelled)
	if len(got) != 2 || got[0] != BookingStatusRequested || got[1] != BookingStatusAccepted {
		t.Errorf("PredecessorsOf(CANCELLED) = %v", got)
	}
	if got := PredecessorsOf(BookingStatusRequested); len(got) != 0 {
		t.Errorf("PredecessorsOf(REQUESTED) = %v, want none", got)
	}
}

func TestIntervalOverlaps(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"部分的に重なる", Interval{at(10), at(12)}, Interval{at(11), at(13)}, true},
		{"内包する", Interval{at(10), at(14)}, Interval{at(11), at(12)}, true},
		{"終了と開始が接する", Interval{at(10), at(12)}, Interval{at(12), at(13)}, false},
		{"開始と終了が接する", Interval{at(12), at(13)}, Interval{at(10), at(12)}, false},
		{"離れている", Interval{at(10), at(11)}, Interval{at(13), at(14)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps() is not symmetric")
			}
		})
	}
}

func TestIntervalValidate(t *testing.T) {
	now := time.Now()
	if err := (Interval{Start: now, End: now.Add(time.Hour)}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Interval{Start: now, End: now}).Validate(); err == nil {
		t.Error("empty interval should be rejected")
	}
	if err := (Interval{Start: now.Add(time.Hour), End: now}).Validate(); err == nil {
		t.Error("reversed interval should be rejected")
	}
	if err := (Interval{End: now}).Validate(); err == nil {
		t.Error("missing start should be rejected")
	}
}

func TestValidateNotes(t *testing.T) {
	ok := strings.Repeat("あ", MaxNotesLength)
	tooLong := ok + "a"
	if err := ValidateNotes(nil); err != nil {
		t.Errorf("nil notes: %v", err)
	}
	if err := ValidateNotes(&ok); err != nil {
		t.Errorf("notes at limit: %v", err)
	}
	if err := ValidateNotes(&tooLong); err == nil {
		t.Error("notes over limit should be rejected")
	}
}

func TestBookingIsCapacityBlock(t *testing.T) {
	block := CapacityBlockPrefix + " メンテナンス"
	plain := "プロジェクタも使います"
	if !(Booking{Notes: &block}).IsCapacityBlock() {
		t.Error("expected capacity block")
	}
	if (Booking{Notes: &plain}).IsCapacityBlock() {
		t.Error("plain notes should not be a capacity block")
	}
	if (Booking{}).IsCapacityBlock() {
		t.Error("nil notes should not be a capacity block")
	}
}

func TestBookingParticipantIDs(t *testing.T) {
	staff := "staff1"
	empty := ""
	if got := (Booking{UserID: "user1", AssigneeID: &staff}).ParticipantIDs(); len(got) != 2 {
		t.Errorf("ParticipantIDs() = %v", got)
	}
	if got := (Booking{UserID: "user1", AssigneeID: &empty}).ParticipantIDs(); len(got) != 1 {
		t.Errorf("ParticipantIDs() = %v", got)
	}
}
