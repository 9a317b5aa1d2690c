// Package alarm diffs each cycle's open slots against every alarm's baseline
// and dispatches one notification per newly opened time.
package alarm

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"tennis-alarm-backend/internal/model"
	"tennis-alarm-backend/internal/notification"
	"tennis-alarm-backend/internal/obs"
	"tennis-alarm-backend/internal/slot"
	"tennis-alarm-backend/internal/store"
)

const notificationTitle = "🎾 예약 가능 알림"

// Notifier delivers one message to one subscriber.
type Notifier interface {
	Notify(ctx context.Context, sub model.PushSubscription, msg notification.Message) error
}

// Stats summarises one evaluation.
type Stats struct {
	Alarms     int
	Seeded     int
	Sent       int
	Failed     int
	Suppressed int
	Skipped    int
}

// Engine owns the baseline and delivery-ledger rules.
type Engine struct {
	store      store.Store
	notifier   Notifier
	reserveURL string
	log        *zap.Logger
	now        func() time.Time
}

// NewEngine creates an engine. reserveURL, when set, is attached to every
// notification with the facility's reservation id.
func NewEngine(st store.Store, n Notifier, reserveURL string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:      st,
		notifier:   n,
		reserveURL: reserveURL,
		log:        log,
		now:        time.Now,
	}
}

// openTimes indexes the cycle's slots as facility -> date -> times.
type openTimes map[string]map[string][]string

func indexSlots(slots []slot.FlatSlot) openTimes {
	idx := make(openTimes)
	for _, s := range slots {
		byDate, ok := idx[s.FacilityID]
		if !ok {
			byDate = make(map[string][]string)
			idx[s.FacilityID] = byDate
		}
		byDate[s.Date] = append(byDate[s.Date], s.Time)
	}
	return idx
}

// current returns the distinct sorted times open on date across facilityIDs,
// and for each time the first facility offering it.
func (o openTimes) current(facilityIDs []string, date string) ([]string, map[string]string) {
	owner := make(map[string]string)
	for _, id := range facilityIDs {
		for _, t := range o[id][date] {
			if _, seen := owner[t]; !seen {
				owner[t] = id
			}
		}
	}
	times := make([]string, 0, len(owner))
	for t := range owner {
		times = append(times, t)
	}
	sort.Strings(times)
	return times, owner
}

// Evaluate runs the diff for every alarm inside one transaction. Any store
// error aborts and rolls back the whole evaluation; dispatch failures do not.
func (e *Engine) Evaluate(ctx context.Context, slots []slot.FlatSlot, groups slot.GroupMap) (Stats, error) {
	var stats Stats
	idx := indexSlots(slots)

	err := e.store.Transaction(ctx, func(tx store.Store) error {
		stats = Stats{}

		alarms, err := tx.ListAlarms(ctx)
		if err != nil {
			return err
		}
		subs, err := tx.ListSubscriptions(ctx)
		if err != nil {
			return err
		}
		subByID := make(map[string]model.PushSubscription, len(subs))
		for _, s := range subs {
			subByID[s.ID] = s
		}
		gone := make(map[string]bool)

		stats.Alarms = len(alarms)
		for _, a := range alarms {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.evaluateAlarm(ctx, tx, a, idx, groups, subByID, gone, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	obs.Notifications.WithLabelValues("seeded").Add(float64(stats.Seeded))
	obs.Notifications.WithLabelValues("sent").Add(float64(stats.Sent))
	obs.Notifications.WithLabelValues("failed").Add(float64(stats.Failed))
	obs.Notifications.WithLabelValues("suppressed").Add(float64(stats.Suppressed))
	return stats, nil
}

func (e *Engine) evaluateAlarm(
	ctx context.Context,
	tx store.Store,
	a model.Alarm,
	idx openTimes,
	groups slot.GroupMap,
	subs map[string]model.PushSubscription,
	gone map[string]bool,
	stats *Stats,
) error {
	key := a.Key()
	log := e.log.With(
		zap.String("subscription_id", key.SubscriptionID),
		zap.String("court_group", key.CourtGroup),
		zap.String("date", key.Date),
	)

	facilityIDs := groups[key.CourtGroup]
	if len(facilityIDs) == 0 {
		log.Debug("court group not in catalog, skipping alarm")
		stats.Skipped++
		return nil
	}
	times, owner := idx.current(facilityIDs, key.Date)

	baseline, err := tx.BaselineTimes(ctx, key)
	if err != nil {
		return err
	}
	if len(baseline) == 0 {
		// First sight of this alarm: everything open now is the baseline.
		if len(times) == 0 {
			return nil
		}
		if err := tx.AddBaseline(ctx, key, times); err != nil {
			return err
		}
		log.Info("baseline seeded", zap.Int("times", len(times)))
		stats.Seeded++
		return nil
	}

	sub, ok := subs[key.SubscriptionID]
	for _, t := range times {
		if _, known := baseline[t]; known {
			continue
		}
		if !ok || gone[key.SubscriptionID] {
			stats.Skipped++
			continue
		}

		slotKey := key.SlotKey(t)
		sent, err := tx.HasSent(ctx, key.SubscriptionID, slotKey)
		if err != nil {
			return err
		}
		if sent {
			stats.Suppressed++
			continue
		}

		msg := notification.Message{
			Title: notificationTitle,
			Body:  key.CourtGroup + " " + key.Date + " " + t,
			URL:   e.reserveLink(owner[t]),
		}
		if err := e.notifier.Notify(ctx, sub, msg); err != nil {
			stats.Failed++
			if errors.Is(err, notification.ErrSubscriptionGone) {
				gone[key.SubscriptionID] = true
			}
			log.Warn("notification failed", zap.String("time", t), zap.Error(err))
			continue
		}

		if err := tx.RecordDelivery(ctx, key, t, e.now()); err != nil {
			return err
		}
		baseline[t] = struct{}{}
		stats.Sent++
		log.Info("notification sent", zap.String("time", t))
	}
	return nil
}

// reserveLink points the configured reservation page at one facility.
func (e *Engine) reserveLink(facilityID string) string {
	if e.reserveURL == "" {
		return ""
	}
	u, err := url.Parse(e.reserveURL)
	if err != nil {
		return e.reserveURL
	}
	q := u.Query()
	q.Set("resveId", facilityID)
	u.RawQuery = q.Encode()
	return u.String()
}
