package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tennis-alarm-backend/internal/obs"
)

const dateLayout = "20060102"

// DateWindow lists the dates (YYYYMMDD) from tomorrow through the last day of
// the month after tomorrow's month. Today is never included.
func DateWindow(today time.Time) []string {
	y, m, d := today.Date()
	start := time.Date(y, m, d+1, 0, 0, 0, 0, today.Location())
	// day 0 of month+2 is the last day of month+1
	end := time.Date(start.Year(), start.Month()+2, 0, 0, 0, 0, 0, today.Location())

	var dates []string
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format(dateLayout))
	}
	return dates
}

// FetchAvailability returns the open times per date for one facility. A date
// whose request fails counts as having no slots; dates without slots are
// omitted.
func (c *Client) FetchAvailability(ctx context.Context, s *Session, facilityID string, dates []string) map[string][]TimeEntry {
	var (
		mu     sync.Mutex
		result = make(map[string][]TimeEntry)
		g      errgroup.Group
	)
	g.SetLimit(c.cfg.MaxInFlight)
	for _, date := range dates {
		date := date
		g.Go(func() error {
			times, err := c.fetchTimes(ctx, s, facilityID, date)
			if err != nil {
				obs.FetchFailures.WithLabelValues("times").Inc()
				c.log.Debug("no times for date",
					zap.String("facility_id", facilityID), zap.String("date", date), zap.Error(err))
				return nil
			}
			if len(times) == 0 {
				return nil
			}
			mu.Lock()
			result[date] = times
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (c *Client) fetchTimes(ctx context.Context, s *Session, facilityID, date string) ([]TimeEntry, error) {
	body, err := c.do(ctx, s, func(ctx context.Context) (*http.Request, error) {
		form := url.Values{"dateVal": {date}, "resveId": {facilityID}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Times.URL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp TimesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal times response: %w", err)
	}

	times := resp.ResveTmList[:0]
	for _, t := range resp.ResveTmList {
		if strings.TrimSpace(t.TimeContent) == "" {
			continue
		}
		times = append(times, t)
	}
	return times, nil
}
