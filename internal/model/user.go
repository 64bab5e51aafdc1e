package model

import "time"

type User struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Email       *string    `db:"email" json:"email,omitempty"`
	LastLoginAt *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Recipient は通知の宛先です
type Recipient struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Recipient はユーザーを通知の宛先に変換します
func (u User) Recipient() Recipient {
	r := Recipient{ID: u.ID, Name: u.Name}
	if u.Email != nil {
		r.Email = *u.Email
	}
	return r
}
