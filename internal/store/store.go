package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tennis-alarm-backend/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for all database operations.
// Every write is insert-if-absent or a delete; nothing is updated in place
// except the subscription upsert driven by client registration.
type Store interface {
	// Transaction runs fn against a Store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	ListAlarms(ctx context.Context) ([]model.Alarm, error)
	AlarmsFor(ctx context.Context, subscriptionID string) ([]model.Alarm, error)
	AddAlarm(ctx context.Context, alarm *model.Alarm) (bool, error)
	DeleteAlarm(ctx context.Context, key model.AlarmKey) error

	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
	FirstSubscription(ctx context.Context) (*model.PushSubscription, error)
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error

	BaselineTimes(ctx context.Context, key model.AlarmKey) (map[string]struct{}, error)
	AddBaseline(ctx context.Context, key model.AlarmKey, times []string) error
	HasSent(ctx context.Context, subscriptionID, slotKey string) (bool, error)
	RecordDelivery(ctx context.Context, key model.AlarmKey, timeContent string, sentAt time.Time) error

	Cleanup(ctx context.Context, today string, sentBefore time.Time) (CleanupResult, error)
	Ping(ctx context.Context) error
}

// CleanupResult counts the rows removed by one sweep.
type CleanupResult struct {
	Alarms    int64
	Baselines int64
	Sent      int64
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) ListAlarms(ctx context.Context) ([]model.Alarm, error) {
	var alarms []model.Alarm
	if err := s.db.WithContext(ctx).Order("id").Find(&alarms).Error; err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	return alarms, nil
}

func (s *gormStore) AlarmsFor(ctx context.Context, subscriptionID string) ([]model.Alarm, error) {
	var alarms []model.Alarm
	if err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&alarms).Error; err != nil {
		return nil, fmt.Errorf("failed to list alarms for %s: %w", subscriptionID, err)
	}
	return alarms, nil
}

// AddAlarm inserts the alarm unless the same (subscription, group, date)
// already exists. It reports whether a row was created.
func (s *gormStore) AddAlarm(ctx context.Context, alarm *model.Alarm) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(alarm)
	if res.Error != nil {
		return false, fmt.Errorf("failed to add alarm: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteAlarm removes the alarm and the baseline it accumulated, so a later
// alarm on the same group and date starts from a fresh seed.
func (s *gormStore) DeleteAlarm(ctx context.Context, key model.AlarmKey) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ? AND court_group = ? AND date = ?", key.SubscriptionID, key.CourtGroup, key.Date).
			Delete(&model.Alarm{}).Error; err != nil {
			return fmt.Errorf("failed to delete alarm: %w", err)
		}
		if err := tx.Where("subscription_id = ? AND court_group = ? AND date = ?", key.SubscriptionID, key.CourtGroup, key.Date).
			Delete(&model.BaselineSlot{}).Error; err != nil {
			return fmt.Errorf("failed to delete alarm baseline: %w", err)
		}
		return nil
	})
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) FirstSubscription(ctx context.Context) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Order("created_at").First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint", "p256dh", "auth", "updated_at"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *gormStore) BaselineTimes(ctx context.Context, key model.AlarmKey) (map[string]struct{}, error) {
	var times []string
	if err := s.db.WithContext(ctx).
		Model(&model.BaselineSlot{}).
		Where("subscription_id = ? AND court_group = ? AND date = ?", key.SubscriptionID, key.CourtGroup, key.Date).
		Pluck("time_content", &times).Error; err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	set := make(map[string]struct{}, len(times))
	for _, t := range times {
		set[t] = struct{}{}
	}
	return set, nil
}

// AddBaseline inserts the given times for the alarm, skipping any already known.
func (s *gormStore) AddBaseline(ctx context.Context, key model.AlarmKey, times []string) error {
	if len(times) == 0 {
		return nil
	}
	rows := make([]model.BaselineSlot, 0, len(times))
	for _, t := range times {
		rows = append(rows, model.BaselineSlot{
			SubscriptionID: key.SubscriptionID,
			CourtGroup:     key.CourtGroup,
			Date:           key.Date,
			TimeContent:    t,
		})
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to add baseline: %w", err)
	}
	return nil
}

func (s *gormStore) HasSent(ctx context.Context, subscriptionID, slotKey string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).
		Model(&model.SentSlot{}).
		Where("subscription_id = ? AND slot_key = ?", subscriptionID, slotKey).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check sent ledger: %w", err)
	}
	return n > 0, nil
}

// RecordDelivery writes the baseline row and the ledger row for a delivered
// slot together, so a ledger row always implies its baseline row.
func (s *gormStore) RecordDelivery(ctx context.Context, key model.AlarmKey, timeContent string, sentAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		baseline := model.BaselineSlot{
			SubscriptionID: key.SubscriptionID,
			CourtGroup:     key.CourtGroup,
			Date:           key.Date,
			TimeContent:    timeContent,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&baseline).Error; err != nil {
			return fmt.Errorf("failed to add baseline for delivery: %w", err)
		}
		sent := model.SentSlot{
			SubscriptionID: key.SubscriptionID,
			SlotKey:        key.SlotKey(timeContent),
			SentAt:         sentAt.UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sent).Error; err != nil {
			return fmt.Errorf("failed to record sent slot: %w", err)
		}
		return nil
	})
}

// Cleanup removes alarms and baselines whose watched date is before today,
// and ledger rows older than sentBefore. The two retention rules differ on
// purpose: the ledger expires by delivery age, the rest by watched date.
func (s *gormStore) Cleanup(ctx context.Context, today string, sentBefore time.Time) (CleanupResult, error) {
	var res CleanupResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := tx.Where("date < ?", today).Delete(&model.Alarm{})
		if r.Error != nil {
			return fmt.Errorf("failed to purge alarms: %w", r.Error)
		}
		res.Alarms = r.RowsAffected

		r = tx.Where("date < ?", today).Delete(&model.BaselineSlot{})
		if r.Error != nil {
			return fmt.Errorf("failed to purge baselines: %w", r.Error)
		}
		res.Baselines = r.RowsAffected

		r = tx.Where("sent_at < ?", sentBefore.UTC()).Delete(&model.SentSlot{})
		if r.Error != nil {
			return fmt.Errorf("failed to purge sent slots: %w", r.Error)
		}
		res.Sent = r.RowsAffected
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}
	return res, nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
