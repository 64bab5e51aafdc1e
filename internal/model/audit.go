package model

import "time"

// AuditEntry は予約ステータス遷移の監査ログです
type AuditEntry struct {
	ID         string        `db:"id"`
	BookingID  string        `db:"booking_id"`
	FromStatus BookingStatus `db:"from_status"`
	ToStatus   BookingStatus `db:"to_status"`
	Actor      string        `db:"actor"`
	Reason     string        `db:"reason"`
	CreatedAt  time.Time     `db:"created_at"`
}
