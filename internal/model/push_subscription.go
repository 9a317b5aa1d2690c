package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Endpoint  string    `gorm:"not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// SubscriptionID derives the stable id for a delivery endpoint, so the same
// device always maps to the same row.
func SubscriptionID(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}
