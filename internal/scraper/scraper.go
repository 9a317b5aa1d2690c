package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"tennis-alarm-backend/config"
	"tennis-alarm-backend/internal/slot"
)

// ErrEmptyCatalog means no facility could be discovered, so the crawl has
// nothing to offer and must not replace the previous snapshot.
var ErrEmptyCatalog = errors.New("catalog is empty")

// Client crawls the reservation site.
type Client struct {
	cfg       config.ScraperConfig
	transport http.RoundTripper
	limiter   *rate.Limiter
	log       *zap.Logger
}

// NewClient creates a crawler for the given scraper configuration.
func NewClient(cfg config.ScraperConfig, log *zap.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn("invalid proxy url, scraper will not use a proxy", zap.String("proxy", cfg.HTTPProxy), zap.Error(err))
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	transport.MaxIdleConnsPerHost = 64

	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Listing.MaxPages <= 0 {
		cfg.Listing.MaxPages = 50
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	return &Client{
		cfg:       cfg,
		transport: transport,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log,
	}
}

// Session is one crawl's view of the site: a cookie jar that carries the
// server-issued session id, and the in-flight request budget.
type Session struct {
	http *http.Client
	sem  *semaphore.Weighted
}

// NewSession starts a fresh cookie session. The listing pagination only
// behaves when every request of a crawl shares the same session cookie.
func (c *Client) NewSession() (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Session{
		http: &http.Client{Transport: c.transport, Jar: jar},
		sem:  semaphore.NewWeighted(int64(c.cfg.MaxInFlight)),
	}, nil
}

// Crawl is the result of one full crawl.
type Crawl struct {
	Facilities map[string]slot.Facility
	Entries    []slot.AvailabilityEntry
	FetchedAt  time.Time
}

// Crawl fetches the catalog, then every facility's availability over the
// date window that starts the day after today.
func (c *Client) Crawl(ctx context.Context, today time.Time) (*Crawl, error) {
	s, err := c.NewSession()
	if err != nil {
		return nil, err
	}

	facilities, err := c.FetchCatalog(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(facilities) == 0 {
		return nil, ErrEmptyCatalog
	}
	c.log.Info("catalog fetched", zap.Int("facilities", len(facilities)))

	dates := DateWindow(today)

	var (
		mu      sync.Mutex
		entries []slot.AvailabilityEntry
		g       errgroup.Group
	)
	g.SetLimit(c.cfg.MaxInFlight)
	for id := range facilities {
		id := id
		g.Go(func() error {
			byDate := c.FetchAvailability(ctx, s, id, dates)
			mu.Lock()
			defer mu.Unlock()
			for date, times := range byDate {
				for _, t := range times {
					entries = append(entries, slot.AvailabilityEntry{
						FacilityID:     id,
						Date:           date,
						TimeContent:    t.TimeContent,
						ReservationRef: string(t.ResveID),
					})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slot.SortEntries(entries)
	c.log.Info("availability fetched", zap.Int("dates", len(dates)), zap.Int("slots", len(entries)))

	return &Crawl{
		Facilities: facilities,
		Entries:    entries,
		FetchedAt:  time.Now(),
	}, nil
}

// do sends one request within the session's in-flight budget and the
// client's rate limit. Each request gets its own timeout.
func (c *Client) do(ctx context.Context, s *Session, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
