package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tennis-alarm-backend/config"
	"tennis-alarm-backend/internal/db"
	"tennis-alarm-backend/internal/model"
	"tennis-alarm-backend/internal/notification"
	"tennis-alarm-backend/internal/scraper"
	"tennis-alarm-backend/internal/slot"
	"tennis-alarm-backend/internal/snapshot"
	"tennis-alarm-backend/internal/store"
)

// fakeCrawler returns queued crawls; a nil entry means failure.
type fakeCrawler struct {
	mu     sync.Mutex
	crawls []*scraper.Crawl
	calls  int
	today  time.Time
}

func (f *fakeCrawler) Crawl(_ context.Context, today time.Time) (*scraper.Crawl, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.today = today
	if len(f.crawls) == 0 {
		return nil, scraper.ErrEmptyCatalog
	}
	c := f.crawls[0]
	if len(f.crawls) > 1 {
		f.crawls = f.crawls[1:]
	}
	if c == nil {
		return nil, scraper.ErrEmptyCatalog
	}
	// Hand out a copy so injection does not leak between cycles.
	cp := *c
	cp.Entries = append([]slot.AvailabilityEntry(nil), c.Entries...)
	return &cp, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (f *fakeNotifier) Notify(_ context.Context, _ model.PushSubscription, msg notification.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

var (
	kst, _ = time.LoadLocation("Asia/Seoul")
	fixed  = time.Date(2025, 12, 20, 10, 0, 0, 0, kst)
	namsa  = model.AlarmKey{SubscriptionID: "sub-1", CourtGroup: "남사", Date: "20251222"}
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Scraper: config.ScraperConfig{Enabled: true, Timezone: "Asia/Seoul"},
		Push:    config.PushConfig{ReserveURL: "https://example.com/reserve?key=4236"},
		Debug: config.DebugConfig{
			TestFacilityID: "10343",
			TestDate:       "20251222",
			TestTimes:      []string{"04:00 ~ 06:00", "22:00 ~ 24:00"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Init(&config.DatabaseConfig{
		DSN:          "sqlite:file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := gdb.DB()
		sqlDB.Close()
	})
	return store.NewGormStore(gdb)
}

func crawlOf(entries ...slot.AvailabilityEntry) *scraper.Crawl {
	return &scraper.Crawl{
		Facilities: map[string]slot.Facility{
			"10343": {ID: "10343", Title: "[유료] 남사 테니스장 A코트", Location: "처인구 남사읍"},
			"20001": {ID: "20001", Title: "죽전 테니스장"},
		},
		Entries:   entries,
		FetchedAt: fixed,
	}
}

func entry(date, tm string) slot.AvailabilityEntry {
	return slot.AvailabilityEntry{FacilityID: "10343", Date: date, TimeContent: tm}
}

type harness struct {
	svc      *Service
	store    store.Store
	crawler  *fakeCrawler
	notifier *fakeNotifier
	snap     *snapshot.Cache
}

func newHarness(t *testing.T, crawls ...*scraper.Crawl) *harness {
	t.Helper()
	st := newTestStore(t)
	h := &harness{
		store:    st,
		crawler:  &fakeCrawler{crawls: crawls},
		notifier: &fakeNotifier{},
		snap:     snapshot.New(),
	}
	h.svc = NewService(testConfig(), h.crawler, st, h.snap, h.notifier, nil)
	h.svc.now = func() time.Time { return fixed }
	return h
}

func (h *harness) subscribe(t *testing.T, key model.AlarmKey) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.UpsertSubscription(ctx, &model.PushSubscription{
		ID: key.SubscriptionID, Endpoint: "https://push.example/" + key.SubscriptionID, P256DH: "p", Auth: "a",
	}))
	_, err := h.store.AddAlarm(ctx, &model.Alarm{SubscriptionID: key.SubscriptionID, CourtGroup: key.CourtGroup, Date: key.Date})
	require.NoError(t, err)
}

func TestRunOnce_UpdatesSnapshotAndNotifies(t *testing.T) {
	h := newHarness(t,
		crawlOf(entry("20251222", "06:00 ~ 08:00")),
		crawlOf(entry("20251222", "04:00 ~ 06:00"), entry("20251222", "06:00 ~ 08:00")),
	)
	h.subscribe(t, namsa)
	ctx := context.Background()

	res, err := h.svc.RunOnce(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Facilities)
	assert.Equal(t, 1, res.Slots)
	assert.Equal(t, 1, res.Alarms.Seeded)
	assert.Equal(t, "20251220", h.crawler.today.Format("20060102"))

	snap, ok := h.snap.Get()
	require.True(t, ok)
	assert.Len(t, snap.Entries, 1)
	assert.Equal(t, fixed, snap.UpdatedAt)

	res, err = h.svc.RunOnce(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Alarms.Sent)
	require.Len(t, h.notifier.msgs, 1)
	assert.Equal(t, "남사 20251222 04:00 ~ 06:00", h.notifier.msgs[0].Body)
	assert.Equal(t, "https://example.com/reserve?key=4236&resveId=10343", h.notifier.msgs[0].URL)
}

func TestRunOnce_CrawlFailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t, crawlOf(entry("20251222", "06:00 ~ 08:00")), nil)
	ctx := context.Background()

	_, err := h.svc.RunOnce(ctx, Options{})
	require.NoError(t, err)
	before, _ := h.snap.Get()

	_, err = h.svc.RunOnce(ctx, Options{})
	assert.ErrorIs(t, err, ErrCrawl)
	assert.ErrorIs(t, err, scraper.ErrEmptyCatalog)

	after, ok := h.snap.Get()
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestRunOnce_CleanupRunsFirst(t *testing.T) {
	h := newHarness(t, nil)
	stale := model.AlarmKey{SubscriptionID: "sub-1", CourtGroup: "남사", Date: "20251219"}
	h.subscribe(t, stale)
	h.subscribe(t, namsa)

	// The crawl fails, but the sweep already happened.
	_, err := h.svc.RunOnce(context.Background(), Options{})
	require.ErrorIs(t, err, ErrCrawl)

	alarms, err := h.store.ListAlarms(context.Background())
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "20251222", alarms[0].Date)
}

func TestRunOnce_InjectsTestSlot(t *testing.T) {
	base := crawlOf(entry("20251222", "06:00 ~ 08:00"))
	h := newHarness(t, base)
	h.subscribe(t, namsa)
	ctx := context.Background()

	_, err := h.svc.RunOnce(ctx, Options{})
	require.NoError(t, err)

	res, err := h.svc.RunOnce(ctx, Options{Test: TestSlotA})
	require.NoError(t, err)
	assert.True(t, res.Injected)
	assert.Equal(t, 1, res.Alarms.Sent)
	assert.Equal(t, "남사 20251222 04:00 ~ 06:00", h.notifier.msgs[0].Body)

	res, err = h.svc.RunOnce(ctx, Options{Test: TestSlotB})
	require.NoError(t, err)
	assert.True(t, res.Injected)
	require.Len(t, h.notifier.msgs, 2)
	assert.Equal(t, "남사 20251222 22:00 ~ 24:00", h.notifier.msgs[1].Body)

	// The injected slot is visible in the snapshot too.
	snap, _ := h.snap.Get()
	assert.Contains(t, snap.Entries, entry("20251222", "22:00 ~ 24:00"))
}

func TestRunOnce_InjectNeedsFacility(t *testing.T) {
	c := crawlOf()
	delete(c.Facilities, "10343")
	h := newHarness(t, c)

	res, err := h.svc.RunOnce(context.Background(), Options{Test: TestSlotA})
	require.NoError(t, err)
	assert.False(t, res.Injected)
	assert.Zero(t, res.Slots)
}

func TestProbe(t *testing.T) {
	h := newHarness(t, crawlOf())
	ctx := context.Background()

	assert.ErrorIs(t, h.svc.Probe(ctx), ErrNoSubscriber)

	h.subscribe(t, namsa)
	res, err := h.svc.RunOnce(ctx, Options{Test: TestPush})
	require.NoError(t, err)
	assert.True(t, res.Probed)
	require.Len(t, h.notifier.msgs, 1)
	assert.Equal(t, "정상 동작 확인", h.notifier.msgs[0].Body)
}

// brokenStore fails the cleanup sweep.
type brokenStore struct {
	store.Store
}

func (brokenStore) Cleanup(context.Context, string, time.Time) (store.CleanupResult, error) {
	return store.CleanupResult{}, errors.New("database is locked")
}

func TestRunOnce_PersistenceFailureAbortsBeforeCrawl(t *testing.T) {
	h := newHarness(t, crawlOf())
	svc := NewService(testConfig(), h.crawler, brokenStore{Store: h.store}, h.snap, h.notifier, nil)

	_, err := svc.RunOnce(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, h.crawler.calls)
	_, ok := h.snap.Get()
	assert.False(t, ok)

	_, err = svc.Cleanup(context.Background())
	assert.ErrorIs(t, err, ErrPersistence)
}

// failingDiffStore hands Transaction callbacks a store whose alarm list fails.
type failingDiffStore struct {
	store.Store
}

func (s failingDiffStore) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.Transaction(ctx, func(tx store.Store) error {
		return fn(alarmListFails{Store: tx})
	})
}

type alarmListFails struct {
	store.Store
}

func (alarmListFails) ListAlarms(context.Context) ([]model.Alarm, error) {
	return nil, errors.New("database is locked")
}

func TestRunOnce_DiffFailureKeepsNewSnapshot(t *testing.T) {
	h := newHarness(t, crawlOf(entry("20251222", "04:00 ~ 06:00")))
	svc := NewService(testConfig(), h.crawler, failingDiffStore{Store: h.store}, h.snap, h.notifier, nil)
	svc.now = func() time.Time { return fixed }

	_, err := svc.RunOnce(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrCrawl)

	snap, ok := h.snap.Get()
	require.True(t, ok)
	assert.Equal(t, []slot.AvailabilityEntry{entry("20251222", "04:00 ~ 06:00")}, snap.Entries)
	assert.Equal(t, fixed, snap.UpdatedAt)
	assert.Empty(t, h.notifier.msgs)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, crawlOf())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.svc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := h.snap.Get()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh loop did not stop")
	}
}

func TestRun_Disabled(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.Scraper.Enabled = false
	h.svc.Run(context.Background())
	assert.Zero(t, h.crawler.calls)
}
