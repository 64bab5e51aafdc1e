package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// BookingStatus は予約のステータスを表します
type BookingStatus string

const (
	BookingStatusRequested BookingStatus = "REQUESTED"
	BookingStatusAccepted  BookingStatus = "ACCEPTED"
	BookingStatusDeclined  BookingStatus = "DECLINED"
	BookingStatusBorrowed  BookingStatus = "BORROWED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

const (
	// MaxNotesLength は備考欄の最大文字数です
	MaxNotesLength = 1000

	// CapacityBlockPrefix はスタッフが在庫確保のためだけに作成した予約を示す備考の接頭辞です
	CapacityBlockPrefix = "[CAPACITY_BLOCK]"
)

// AllBookingStatuses は定義済みのステータス一覧です
var AllBookingStatuses = []BookingStatus{
	BookingStatusRequested,
	BookingStatusAccepted,
	BookingStatusDeclined,
	BookingStatusBorrowed,
	BookingStatusCompleted,
	BookingStatusCancelled,
}

// 遷移可能なステータスの有向グラフ
// 終端ステータスは空のmapを持つ
var validNext = map[BookingStatus]map[BookingStatus]bool{
	BookingStatusRequested: {BookingStatusAccepted: true, BookingStatusDeclined: true, BookingStatusCancelled: true},
	BookingStatusAccepted:  {BookingStatusBorrowed: true, BookingStatusCancelled: true},
	BookingStatusBorrowed:  {BookingStatusCompleted: true},
	BookingStatusDeclined:  {},
	BookingStatusCompleted: {},
	BookingStatusCancelled: {},
}

// Valid は定義済みのステータスかどうかを返します
func (s BookingStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal は終端ステータスかどうかを返します
func (s BookingStatus) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// CanTransition はfromからtoへの遷移が許可されているかを返します
func CanTransition(from, to BookingStatus) bool {
	return validNext[from][to]
}

// PredecessorsOf はtoへ遷移可能なステータスの一覧を返します
func PredecessorsOf(to BookingStatus) []BookingStatus {
	var from []BookingStatus
	for _, s := range AllBookingStatuses {
		if validNext[s][to] {
			from = append(from, s)
		}
	}
	return from
}

// CanCancel は手動キャンセルが可能なステータスかを返します
func CanCancel(s BookingStatus) bool {
	return s == BookingStatusRequested || s == BookingStatusAccepted
}

// CapacityHolding は在庫を消費しているステータスかを返します
func (s BookingStatus) CapacityHolding() bool {
	return s == BookingStatusAccepted || s == BookingStatusBorrowed
}

// Interval は半開区間 [Start, End) を表します
type Interval struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// Validate は区間の開始が終了より前であることを確認します
func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("start and end are required")
	}
	if !iv.Start.Before(iv.End) {
		return fmt.Errorf("start %s must be before end %s",
			iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
	}
	return nil
}

// Overlaps は2つの半開区間 [a,b) と [c,d) が重なるかを返します
// a < d && c < b のときに重なります
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Booking は予約のドメインモデルです
type Booking struct {
	ID         string        `db:"id" json:"id"`
	UserID     string        `db:"user_id" json:"userId"`
	AssigneeID *string       `db:"assignee_id" json:"assigneeId,omitempty"`
	ItemID     string        `db:"item_id" json:"itemId"`
	StartDate  time.Time     `db:"start_date" json:"startDate"`
	EndDate    time.Time     `db:"end_date" json:"endDate"`
	Quantity   int           `db:"quantity" json:"quantity"`
	Status     BookingStatus `db:"status" json:"status"`
	Notes      *string       `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updatedAt"`

	// 以下はJOINで取得する参照用の値です
	ItemTitle string `db:"item_title" json:"itemTitle,omitempty"`
}

// Interval は予約期間を返します
func (b Booking) Interval() Interval {
	return Interval{Start: b.StartDate, End: b.EndDate}
}

// IsCapacityBlock は管理者による在庫確保用の予約かを返します
func (b Booking) IsCapacityBlock() bool {
	return b.Notes != nil && strings.HasPrefix(*b.Notes, CapacityBlockPrefix)
}

// NotesText は備考を文字列で返します
func (b Booking) NotesText() string {
	if b.Notes == nil {
		return ""
	}
	return *b.Notes
}

// ParticipantIDs は予約の所有者と担当者のIDを返します
func (b Booking) ParticipantIDs() []string {
	ids := []string{b.UserID}
	if b.AssigneeID != nil && *b.AssigneeID != "" {
		ids = append(ids, *b.AssigneeID)
	}
	return ids
}

// ValidateNotes は備考の長さを検証します
func ValidateNotes(notes *string) error {
	if notes == nil {
		return nil
	}
	if n := utf8.RuneCountInString(*notes); n > MaxNotesLength {
		return fmt.Errorf("notes must be at most %d characters, got %d", MaxNotesLength, n)
	}
	return nil
}

// BookingView は利用者向けの空き状況表示に使う最小限の予約情報です
type BookingView struct {
	ID        string        `json:"id"`
	StartDate time.Time     `json:"startDate"`
	EndDate   time.Time     `json:"endDate"`
	Status    BookingStatus `json:"status"`
	Quantity  int           `json:"quantity"`
}

// View は予約を空き状況表示用に変換します
func (b Booking) View() BookingView {
	return BookingView{
		ID:        b.ID,
		StartDate: b.StartDate,
		EndDate:   b.EndDate,
		Status:    b.Status,
		Quantity:  b.Quantity,
	}
}
