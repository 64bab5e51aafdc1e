package model

import "time"

// Item は予約対象の備品・部屋です
// TotalQuantity は同時に重なるすべての予約で共有される在庫数です
type Item struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	TotalQuantity int       `db:"total_quantity" json:"totalQuantity"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}
