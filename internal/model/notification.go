package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeBookingStatus は予約ステータス変更の通知を表します
	NotificationTypeBookingStatus NotificationType = "booking_status"
	// NotificationTypeCommon は共通の通知を表します
	NotificationTypeCommon NotificationType = "common"
)

// MessageKeyPrefix は予約ステータス通知の翻訳キーの接頭辞です
const MessageKeyPrefix = "notifications.booking."

// Message は通知本文のペイロードです
// 文章そのものではなく翻訳キーと差し込み変数を保持し、表示側のロケールで描画されます
type Message struct {
	Key  string         `json:"key"`
	Vars map[string]any `json:"vars,omitempty"`
}

// Encode はメッセージをテキストとして直列化します
func (m Message) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode notification message: %w", err)
	}
	return string(b), nil
}

// DecodeMessage は直列化されたメッセージを復元します
func DecodeMessage(s string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode notification message: %w", err)
	}
	return m, nil
}

// MessageKeyFor は遷移後のステータスに対応する翻訳キーを返します
func MessageKeyFor(status BookingStatus) string {
	return MessageKeyPrefix + strings.ToLower(string(status))
}

// NotificationRecord は通知のドメインモデルです
// データベースに永続化される通知レコードと一致しています
type NotificationRecord struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"userId"`
	BookingID *string          `db:"booking_id" json:"bookingId,omitempty"`
	Type      NotificationType `db:"type" json:"type"`
	Message   string           `db:"message" json:"message"`
	IsRead    bool             `db:"is_read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// StatusChange は予約ステータス変更通知の入力です
type StatusChange struct {
	BookingID  string        `json:"bookingId" validate:"required"`
	Status     BookingStatus `json:"status" validate:"required"`
	ItemTitle  string        `json:"itemTitle"`
	StartDate  time.Time     `json:"startDate" validate:"required"`
	EndDate    time.Time     `json:"endDate" validate:"required"`
	Notes      *string       `json:"notes,omitempty"`
	Recipients []Recipient   `json:"recipients" validate:"dive"`
}

// NewStatusChange は予約と宛先から通知入力を作成します
func NewStatusChange(b Booking, recipients []Recipient) StatusChange {
	return StatusChange{
		BookingID:  b.ID,
		Status:     b.Status,
		ItemTitle:  b.ItemTitle,
		StartDate:  b.StartDate,
		EndDate:    b.EndDate,
		Notes:      b.Notes,
		Recipients: recipients,
	}
}

// Message はステータス変更に対応する通知メッセージを作成します
func (c StatusChange) Message() Message {
	vars := map[string]any{
		"itemTitle": c.ItemTitle,
		"startDate": c.StartDate.UTC().Format(time.RFC3339),
		"endDate":   c.EndDate.UTC().Format(time.RFC3339),
	}
	if c.Notes != nil && *c.Notes != "" {
		vars["notes"] = *c.Notes
	}
	return Message{Key: MessageKeyFor(c.Status), Vars: vars}
}

// UniqueRecipients はIDで重複を除いた宛先を出現順に返します
func (c StatusChange) UniqueRecipients() []Recipient {
	seen := make(map[string]struct{}, len(c.Recipients))
	out := make([]Recipient, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		if r.ID == "" {
			continue
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ToNotificationRecord はステータス変更を宛先ごとの通知レコードに変換します
func (c StatusChange) ToNotificationRecord(id string, recipient Recipient, createdAt time.Time) (*NotificationRecord, error) {
	msg, err := c.Message().Encode()
	if err != nil {
		return nil, err
	}
	bookingID := c.BookingID
	return &NotificationRecord{
		ID:        id,
		UserID:    recipient.ID,
		BookingID: &bookingID,
		Type:      NotificationTypeBookingStatus,
		Message:   msg,
		IsRead:    false,
		CreatedAt: createdAt,
	}, nil
}

// Email は送信するメールの内容です
type Email struct {
	To        string `json:"to"`
	ToName    string `json:"toName,omitempty"`
	From      string `json:"from,omitempty"`
	Subject   string `json:"subject"`
	TextBody  string `json:"textBody"`
	HTMLBody  string `json:"htmlBody"`
	BookingID string `json:"bookingId"`
}
