package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tennis-alarm-backend/config"
	"tennis-alarm-backend/internal/slot"
)

const sessionCookie = "JSESSIONID"

// fakeSite mimics the reservation site: a paginated HTML listing that hands
// out a session cookie, and a JSON endpoint for open times.
type fakeSite struct {
	mu          sync.Mutex
	pages       map[int][]string
	lastPage    int
	failPages   map[int]bool
	listingHits map[int]int
	// requests after the first that arrived without the session cookie
	cookieless int
	// keyed by "id|date"
	times      map[string][]TimeEntry
	failDates  map[string]bool
	timesDelay time.Duration

	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	timesRequests atomic.Int32
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:       map[int][]string{},
		failPages:   map[int]bool{},
		listingHits: map[int]int{},
		times:       map[string][]TimeEntry{},
		failDates:   map[string]bool{},
	}
}

func (f *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/list":
		f.serveListing(w, r)
	case "/times":
		f.serveTimes(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSite) serveListing(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("pageIndex"))

	f.mu.Lock()
	f.listingHits[page]++
	_, err := r.Cookie(sessionCookie)
	if page == 1 {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "session-1", Path: "/"})
	} else if err != nil {
		f.cookieless++
	}
	fail := f.failPages[page]
	ids := f.pages[page]
	f.mu.Unlock()

	if fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, listingHTML(f.lastPage, ids...))
}

func (f *fakeSite) serveTimes(w http.ResponseWriter, r *http.Request) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	f.timesRequests.Add(1)
	if f.timesDelay > 0 {
		time.Sleep(f.timesDelay)
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := r.Cookie(sessionCookie); err != nil {
		f.mu.Lock()
		f.cookieless++
		f.mu.Unlock()
	}
	key := r.PostForm.Get("resveId") + "|" + r.PostForm.Get("dateVal")

	f.mu.Lock()
	fail := f.failDates[key]
	times := f.times[key]
	f.mu.Unlock()

	if fail {
		http.Error(w, "boom", http.StatusBadGateway)
		return
	}
	if times == nil {
		times = []TimeEntry{}
	}
	_ = json.NewEncoder(w).Encode(TimesResponse{ResveTmList: times})
}

func listingHTML(lastPage int, ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul class=\"reserve_list\">")
	for _, id := range ids {
		fmt.Fprintf(&b, `
<li class="reserve_box_item">
  <div class="reserve_title">
    [유료] 코트%s 테니스장 A코트
    <div class="reserve_position">용인시 %s</div>
  </div>
  <div class="btn_wrap">
    <a href="/publicsports/sports/selectFcltyRceptResveViewU.do?key=4236&amp;resveId=%s">예약하기</a>
  </div>
</li>`, id, id, id)
	}
	b.WriteString(`</ul><div class="paging">`)
	for p := 1; p <= lastPage; p++ {
		fmt.Fprintf(&b, `<a href="?pageUnit=20&amp;pageIndex=%d">%d</a>`, p, p)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func testConfig(baseURL string) config.ScraperConfig {
	return config.ScraperConfig{
		MaxInFlight:    4,
		RequestTimeout: 2 * time.Second,
		Headers:        map[string]string{"User-Agent": "Mozilla/5.0"},
		Listing: config.ListingRequest{
			URL:      baseURL + "/list",
			PageSize: 20,
			Params:   map[string]string{"searchFcltyFieldNm": "ITEM_01"},
		},
		Times: config.TimesRequest{URL: baseURL + "/times"},
	}
}

func newTestClient(t *testing.T, site *fakeSite) (*Client, *Session) {
	server := httptest.NewServer(site)
	t.Cleanup(server.Close)

	client := NewClient(testConfig(server.URL), zap.NewNop())
	s, err := client.NewSession()
	require.NoError(t, err)
	return client, s
}

func TestMaxPageIndex(t *testing.T) {
	assert.Equal(t, 5, MaxPageIndex([]byte(listingHTML(5))))
	assert.Equal(t, 12, MaxPageIndex([]byte(`<a href="?pageIndex=3">3</a><a href="?pageIndex=12">끝</a>`)))
	assert.Equal(t, 1, MaxPageIndex([]byte(`<p>no paging</p>`)))
}

func TestParseListing(t *testing.T) {
	html := `<ul>
<li class="reserve_box_item">
  <div class="reserve_title">[유료] 남사 테니스장 A코트<div class="reserve_position">처인구 남사읍</div></div>
  <div class="btn_wrap"><a href="selectFcltyRceptResveViewU.do?resveId=10153">예약</a></div>
</li>
<li class="reserve_box_item">
  <div class="reserve_title">링크 없음</div>
</li>
<li class="reserve_box_item">
  <div class="reserve_title">아이디 없음</div>
  <div class="btn_wrap"><a href="selectFcltyRceptResveViewU.do?key=4236">예약</a></div>
</li>
<li class="reserve_box_item">
  <div class="reserve_title">죽전</div>
  <div class="btn_wrap"><a href="selectFcltyRceptResveViewU.do?resveId=10201">예약</a></div>
</li>
</ul>`

	items, parseErrs, err := ParseListing([]byte(html), 1)
	require.NoError(t, err)

	assert.Equal(t, []slot.Facility{
		{ID: "10153", Title: "[유료] 남사 테니스장 A코트", Location: "처인구 남사읍"},
		{ID: "10201", Title: "죽전", Location: ""},
	}, items)
	require.Len(t, parseErrs, 2)
	assert.Equal(t, 1, parseErrs[0].Index)
	assert.Equal(t, 2, parseErrs[1].Index)
}

func TestFetchCatalog_Pagination(t *testing.T) {
	site := newFakeSite()
	site.lastPage = 5
	for p := 1; p <= 5; p++ {
		site.pages[p] = []string{strconv.Itoa(10000 + p*10), strconv.Itoa(10000 + p*10 + 1)}
	}
	client, s := newTestClient(t, site)

	facilities, err := client.FetchCatalog(context.Background(), s)
	require.NoError(t, err)

	assert.Len(t, facilities, 10)
	assert.Equal(t, "[유료] 코트10031 테니스장 A코트", facilities["10031"].Title)
	assert.Equal(t, "용인시 10031", facilities["10031"].Location)

	site.mu.Lock()
	defer site.mu.Unlock()
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1, 4: 1, 5: 1}, site.listingHits, "first page plus exactly four more")
	assert.Zero(t, site.cookieless, "later pages must reuse the session cookie")
}

func TestFetchCatalog_SkipsFailedPage(t *testing.T) {
	site := newFakeSite()
	site.lastPage = 3
	site.pages[1] = []string{"1"}
	site.pages[2] = []string{"2"}
	site.pages[3] = []string{"3", "1"}
	site.failPages[2] = true
	client, s := newTestClient(t, site)

	facilities, err := client.FetchCatalog(context.Background(), s)
	require.NoError(t, err)

	assert.Len(t, facilities, 2)
	assert.Contains(t, facilities, "1")
	assert.Contains(t, facilities, "3")
}

func TestFetchCatalog_FirstPageFails(t *testing.T) {
	site := newFakeSite()
	site.lastPage = 1
	site.failPages[1] = true
	client, s := newTestClient(t, site)

	_, err := client.FetchCatalog(context.Background(), s)
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestDateWindow(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	testCases := []struct {
		name  string
		today time.Time
		first string
		last  string
		count int
	}{
		{
			name:  "Mid December",
			today: time.Date(2025, 12, 21, 23, 59, 0, 0, seoul),
			first: "20251222", last: "20260131", count: 10 + 31,
		},
		{
			name:  "Last day of month rolls into next",
			today: time.Date(2025, 1, 31, 8, 0, 0, 0, seoul),
			first: "20250201", last: "20250331", count: 28 + 31,
		},
		{
			name:  "Leap year February",
			today: time.Date(2024, 2, 10, 0, 0, 0, 0, seoul),
			first: "20240211", last: "20240331", count: 19 + 31,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dates := DateWindow(tc.today)
			require.Len(t, dates, tc.count)
			assert.Equal(t, tc.first, dates[0])
			assert.Equal(t, tc.last, dates[len(dates)-1])
			assert.NotContains(t, dates, tc.today.Format("20060102"), "today is never included")
		})
	}
}

func TestFetchAvailability(t *testing.T) {
	site := newFakeSite()
	site.times["10153|20251222"] = []TimeEntry{{TimeContent: "04:00 ~ 06:00", ResveID: "501"}}
	site.times["10153|20251224"] = []TimeEntry{{TimeContent: " "}, {TimeContent: "06:00 ~ 08:00"}}
	site.failDates["10153|20251223"] = true
	client, s := newTestClient(t, site)

	got := client.FetchAvailability(context.Background(), s, "10153", []string{"20251222", "20251223", "20251224", "20251225"})

	assert.Equal(t, map[string][]TimeEntry{
		"20251222": {{TimeContent: "04:00 ~ 06:00", ResveID: "501"}},
		"20251224": {{TimeContent: "06:00 ~ 08:00"}},
	}, got)
}

func TestTimeEntry_ResveIDShapes(t *testing.T) {
	var resp TimesResponse
	body := `{"resveTmList":[{"timeContent":"a","resveId":123},{"timeContent":"b","resveId":"77"},{"timeContent":"c","resveId":null}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	assert.Equal(t, flexString("123"), resp.ResveTmList[0].ResveID)
	assert.Equal(t, flexString("77"), resp.ResveTmList[1].ResveID)
	assert.Equal(t, flexString(""), resp.ResveTmList[2].ResveID)
}

func TestCrawl(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	today := time.Date(2025, 12, 21, 10, 0, 0, 0, seoul)

	site := newFakeSite()
	site.lastPage = 2
	site.pages[1] = []string{"10153"}
	site.pages[2] = []string{"10201"}
	site.times["10153|20251222"] = []TimeEntry{{TimeContent: "22:00 ~ 24:00"}, {TimeContent: "04:00 ~ 06:00"}}
	site.times["10201|20260131"] = []TimeEntry{{TimeContent: "06:00 ~ 08:00", ResveID: "9"}}
	site.times["10201|20251221"] = []TimeEntry{{TimeContent: "same day"}}
	site.timesDelay = 2 * time.Millisecond
	client, _ := newTestClient(t, site)

	crawl, err := client.Crawl(context.Background(), today)
	require.NoError(t, err)

	assert.Len(t, crawl.Facilities, 2)
	assert.Equal(t, []slot.AvailabilityEntry{
		{FacilityID: "10153", Date: "20251222", TimeContent: "04:00 ~ 06:00"},
		{FacilityID: "10153", Date: "20251222", TimeContent: "22:00 ~ 24:00"},
		{FacilityID: "10201", Date: "20260131", TimeContent: "06:00 ~ 08:00", ReservationRef: "9"},
	}, crawl.Entries)

	assert.Equal(t, int32(2*41), site.timesRequests.Load(), "one request per facility per date")
	assert.LessOrEqual(t, site.maxInFlight.Load(), int32(4), "in-flight requests stay within the limit")
	site.mu.Lock()
	assert.Zero(t, site.cookieless)
	site.mu.Unlock()
}

func TestCrawl_EmptyCatalog(t *testing.T) {
	site := newFakeSite()
	site.lastPage = 1
	client, _ := newTestClient(t, site)

	_, err := client.Crawl(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestFetchCatalog_CapsPageCount(t *testing.T) {
	site := newFakeSite()
	site.lastPage = 6
	for p := 1; p <= 6; p++ {
		site.pages[p] = []string{strconv.Itoa(p)}
	}
	server := httptest.NewServer(site)
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)
	cfg.Listing.MaxPages = 3
	client := NewClient(cfg, zap.NewNop())
	s, err := client.NewSession()
	require.NoError(t, err)

	facilities, err := client.FetchCatalog(context.Background(), s)
	require.NoError(t, err)

	assert.Len(t, facilities, 3)
	site.mu.Lock()
	defer site.mu.Unlock()
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, site.listingHits)
}

func TestCrawl_SingleRequestInFlight(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	site := newFakeSite()
	site.lastPage = 2
	site.pages[1] = []string{"10153", "10154"}
	site.pages[2] = []string{"10201"}
	site.times["10201|20251222"] = []TimeEntry{{TimeContent: "06:00 ~ 08:00"}}
	server := httptest.NewServer(site)
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)
	cfg.MaxInFlight = 1
	client := NewClient(cfg, zap.NewNop())

	crawl, err := client.Crawl(context.Background(), time.Date(2025, 12, 21, 10, 0, 0, 0, seoul))
	require.NoError(t, err)

	assert.Len(t, crawl.Facilities, 3)
	assert.Len(t, crawl.Entries, 1)
	assert.Equal(t, int32(3*41), site.timesRequests.Load())
	assert.Equal(t, int32(1), site.maxInFlight.Load())
}
