// Package refresh runs the refresh cycle: cleanup, crawl, snapshot update
// and alarm evaluation, on a timer or on demand.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tennis-alarm-backend/config"
	"tennis-alarm-backend/internal/alarm"
	"tennis-alarm-backend/internal/notification"
	"tennis-alarm-backend/internal/obs"
	"tennis-alarm-backend/internal/scraper"
	"tennis-alarm-backend/internal/slot"
	"tennis-alarm-backend/internal/snapshot"
	"tennis-alarm-backend/internal/store"
)

var (
	// ErrCrawl aborts a cycle before anything is evaluated; the snapshot is kept.
	ErrCrawl = errors.New("crawl failed")
	// ErrPersistence aborts a cycle whose store work was rolled back.
	ErrPersistence = errors.New("persistence failed")
	// ErrNoSubscriber is returned by the probe when nobody has subscribed yet.
	ErrNoSubscriber = errors.New("no push subscription stored")
)

// Test modes accepted by RunOnce.
const (
	TestNone  = ""
	TestSlotA = "1"
	TestSlotB = "2"
	TestPush  = "push"
)

// Crawler fetches one full crawl of the reservation site.
type Crawler interface {
	Crawl(ctx context.Context, today time.Time) (*scraper.Crawl, error)
}

// Options tune one on-demand cycle.
type Options struct {
	Test string
}

// Result reports what one cycle did.
type Result struct {
	Facilities int                 `json:"facilities"`
	Slots      int                 `json:"slots"`
	Cleanup    store.CleanupResult `json:"cleanup"`
	Alarms     alarm.Stats         `json:"alarms"`
	Injected   bool                `json:"injected,omitempty"`
	Probed     bool                `json:"probed,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
	Duration   time.Duration       `json:"duration_ns"`
}

// Service orchestrates refresh cycles. Cycles never overlap.
type Service struct {
	cfg      *config.Config
	crawler  Crawler
	store    store.Store
	engine   *alarm.Engine
	snapshot *snapshot.Cache
	notifier alarm.Notifier
	log      *zap.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewService wires a refresh service.
func NewService(
	cfg *config.Config,
	crawler Crawler,
	st store.Store,
	snap *snapshot.Cache,
	notifier alarm.Notifier,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		crawler:  crawler,
		store:    st,
		engine:   alarm.NewEngine(st, notifier, cfg.Push.ReserveURL, log.Named("alarm")),
		snapshot: snap,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Run starts the refresh cycle in a loop.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Scraper.Enabled {
		s.log.Info("scheduled refresh is disabled")
		return
	}
	s.log.Info("starting refresh loop", zap.Duration("interval", s.cfg.Scraper.Interval))

	s.runLogged(ctx)

	timer := time.NewTimer(s.cfg.Scraper.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("refresh loop shutting down")
			return
		case <-timer.C:
			s.runLogged(ctx)
			timer.Reset(s.cfg.Scraper.Interval)
		}
	}
}

func (s *Service) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx, Options{}); err != nil && ctx.Err() == nil {
		s.log.Error("refresh cycle failed", zap.Error(err))
	}
}

// RunOnce performs one cycle: sweep stale rows, crawl, replace the snapshot,
// then diff and notify inside one transaction.
func (s *Service) RunOnce(ctx context.Context, opts Options) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	res, outcome, err := s.runOnce(ctx, opts)
	res.Duration = s.now().Sub(start)

	obs.CyclesTotal.WithLabelValues(outcome).Inc()
	obs.CycleDuration.Observe(res.Duration.Seconds())
	if err != nil {
		return res, err
	}

	s.log.Info("refresh cycle complete",
		zap.Int("facilities", res.Facilities),
		zap.Int("slots", res.Slots),
		zap.Int("seeded", res.Alarms.Seeded),
		zap.Int("sent", res.Alarms.Sent),
		zap.Int("failed", res.Alarms.Failed),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

func (s *Service) runOnce(ctx context.Context, opts Options) (Result, string, error) {
	var res Result
	now := s.now().In(s.cfg.Location())
	today := now.Format("20060102")

	cleaned, err := s.store.Cleanup(ctx, today, now.Add(-s.cfg.Cleanup.SentRetention))
	if err != nil {
		return res, "persistence_failed", fmt.Errorf("%w: cleanup: %w", ErrPersistence, err)
	}
	res.Cleanup = cleaned
	if cleaned != (store.CleanupResult{}) {
		s.log.Info("stale records removed",
			zap.Int64("alarms", cleaned.Alarms),
			zap.Int64("baselines", cleaned.Baselines),
			zap.Int64("sent", cleaned.Sent),
		)
	}

	crawl, err := s.crawler.Crawl(ctx, now)
	if err != nil {
		return res, "crawl_failed", fmt.Errorf("%w: %w", ErrCrawl, err)
	}

	switch opts.Test {
	case TestSlotA, TestSlotB:
		res.Injected = s.inject(crawl, opts.Test)
	case TestPush:
		if err := s.Probe(ctx); err != nil {
			s.log.Warn("probe notification failed", zap.Error(err))
		} else {
			res.Probed = true
		}
	}

	s.snapshot.Set(snapshot.Snapshot{
		Facilities: crawl.Facilities,
		Entries:    crawl.Entries,
		UpdatedAt:  crawl.FetchedAt,
	})
	res.Facilities = len(crawl.Facilities)
	res.Slots = len(crawl.Entries)
	res.UpdatedAt = crawl.FetchedAt
	obs.Facilities.Set(float64(res.Facilities))
	obs.OpenSlots.Set(float64(res.Slots))

	slots := slot.Flatten(crawl.Facilities, crawl.Entries)
	groups := slot.BuildGroupMap(crawl.Facilities)

	stats, err := s.engine.Evaluate(ctx, slots, groups)
	res.Alarms = stats
	if err != nil {
		return res, "persistence_failed", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return res, "ok", nil
}

// inject adds one configured test slot to the crawl, if its facility exists.
func (s *Service) inject(crawl *scraper.Crawl, mode string) bool {
	dbg := s.cfg.Debug
	i := 0
	if mode == TestSlotB {
		i = 1
	}
	if i >= len(dbg.TestTimes) || dbg.TestFacilityID == "" || dbg.TestDate == "" {
		s.log.Warn("test slot not configured", zap.String("mode", mode))
		return false
	}
	if _, ok := crawl.Facilities[dbg.TestFacilityID]; !ok {
		s.log.Warn("test facility not in catalog", zap.String("facility_id", dbg.TestFacilityID))
		return false
	}
	entry := slot.AvailabilityEntry{
		FacilityID:  dbg.TestFacilityID,
		Date:        dbg.TestDate,
		TimeContent: dbg.TestTimes[i],
	}
	for _, e := range crawl.Entries {
		if e.FacilityID == entry.FacilityID && e.Date == entry.Date && e.TimeContent == entry.TimeContent {
			return false
		}
	}
	crawl.Entries = append(crawl.Entries, entry)
	slot.SortEntries(crawl.Entries)
	s.log.Info("test slot injected",
		zap.String("facility_id", entry.FacilityID),
		zap.String("date", entry.Date),
		zap.String("time", entry.TimeContent),
	)
	return true
}

// Probe sends a fixed test notification to the oldest stored subscriber.
func (s *Service) Probe(ctx context.Context) error {
	sub, err := s.store.FirstSubscription(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSubscriber
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return s.notifier.Notify(ctx, *sub, probeMessage())
}

func probeMessage() notification.Message {
	return notification.Message{Title: "🎾 예약 가능 알림 테스트", Body: "정상 동작 확인"}
}

// Cleanup runs only the stale-record sweep.
func (s *Service) Cleanup(ctx context.Context) (store.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.cfg.Location())
	res, err := s.store.Cleanup(ctx, now.Format("20060102"), now.Add(-s.cfg.Cleanup.SentRetention))
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return res, nil
}

var _ alarm.Notifier = (*notification.Dispatcher)(nil)
