package model

import "time"

// Alarm is a subscriber's request to watch one court group on one date.
type Alarm struct {
	ID             int64     `gorm:"primaryKey"`
	SubscriptionID string    `gorm:"size:64;not null;uniqueIndex:ux_alarm,priority:1"`
	CourtGroup     string    `gorm:"type:text;not null;uniqueIndex:ux_alarm,priority:2"`
	Date           string    `gorm:"size:8;not null;uniqueIndex:ux_alarm,priority:3;index"`
	CreatedAt      time.Time `gorm:"not null"`
}

// Key returns the natural key shared by the alarm's baseline rows.
func (a Alarm) Key() AlarmKey {
	return AlarmKey{SubscriptionID: a.SubscriptionID, CourtGroup: a.CourtGroup, Date: a.Date}
}

// AlarmKey identifies an alarm without its surrogate id.
type AlarmKey struct {
	SubscriptionID string
	CourtGroup     string
	Date           string
}

// SlotKey is the delivery-ledger key for one time on this alarm's group and date.
func (k AlarmKey) SlotKey(timeContent string) string {
	return k.CourtGroup + "|" + k.Date + "|" + timeContent
}
