package model

import "time"

// BaselineSlot records a slot time already known for an alarm.
// Rows are only ever inserted (if absent) or swept by date.
type BaselineSlot struct {
	ID             int64     `gorm:"primaryKey"`
	SubscriptionID string    `gorm:"size:64;not null;uniqueIndex:ux_baseline,priority:1"`
	CourtGroup     string    `gorm:"type:text;not null;uniqueIndex:ux_baseline,priority:2"`
	Date           string    `gorm:"size:8;not null;uniqueIndex:ux_baseline,priority:3;index"`
	TimeContent    string    `gorm:"type:text;not null;uniqueIndex:ux_baseline,priority:4"`
	CreatedAt      time.Time `gorm:"not null"`
}

// SentSlot is the delivery ledger that keeps dispatch idempotent.
type SentSlot struct {
	SubscriptionID string    `gorm:"primaryKey;size:64"`
	SlotKey        string    `gorm:"primaryKey;type:text"`
	SentAt         time.Time `gorm:"not null;index"`
}
