package model

import "time"

// Audit carries the row timestamps. Entities embed it instead of sharing a base type.
type Audit struct {
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FormatDate renders CreatedAt the way receipts and the admin view show it.
func (a Audit) FormatDate() string {
	return a.CreatedAt.Format("02 January, 2006 03:04")
}
