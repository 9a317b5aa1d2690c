package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tennis-alarm-backend/internal/obs"
	"tennis-alarm-backend/internal/slot"
)

const reserveLinkSelector = "div.btn_wrap a[href*='selectFcltyRceptResveViewU.do']"

var (
	pageIndexRe = regexp.MustCompile(`pageIndex=(\d+)`)
	resveIDRe   = regexp.MustCompile(`resveId=(\d+)`)
)

// ParseError describes one listing item that could not be read.
type ParseError struct {
	Page   int
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("listing page %d item %d: %s", e.Page, e.Index, e.Reason)
}

// FetchCatalog returns every facility on the listing, keyed by facility id.
// The first page warms the session and tells us the last page index; the
// remaining pages are fetched concurrently. Pages that fail are skipped.
func (c *Client) FetchCatalog(ctx context.Context, s *Session) (map[string]slot.Facility, error) {
	first, err := c.fetchListingPage(ctx, s, 1)
	if err != nil {
		obs.FetchFailures.WithLabelValues("listing").Inc()
		return nil, fmt.Errorf("%w: first listing page: %v", ErrEmptyCatalog, err)
	}

	lastPage := MaxPageIndex(first)
	if lastPage > c.cfg.Listing.MaxPages {
		c.log.Warn("listing reports more pages than allowed",
			zap.Int("last_page", lastPage), zap.Int("max_pages", c.cfg.Listing.MaxPages))
		lastPage = c.cfg.Listing.MaxPages
	}
	c.log.Debug("listing pages discovered", zap.Int("last_page", lastPage))

	pages := make([][]byte, lastPage+1)
	pages[1] = first

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxInFlight)
	for page := 2; page <= lastPage; page++ {
		page := page
		g.Go(func() error {
			body, err := c.fetchListingPage(ctx, s, page)
			if err != nil {
				obs.FetchFailures.WithLabelValues("listing").Inc()
				c.log.Warn("skipping listing page", zap.Int("page", page), zap.Error(err))
				return nil
			}
			pages[page] = body
			return nil
		})
	}
	_ = g.Wait()

	facilities := make(map[string]slot.Facility)
	for page := 1; page <= lastPage; page++ {
		if pages[page] == nil {
			continue
		}
		items, parseErrs, err := ParseListing(pages[page], page)
		if err != nil {
			c.log.Warn("unreadable listing page", zap.Int("page", page), zap.Error(err))
			continue
		}
		for _, pe := range parseErrs {
			obs.ParseFailures.Inc()
			c.log.Debug("skipping listing item", zap.Error(pe))
		}
		for _, f := range items {
			// ids are unique per facility; the first sighting wins
			if _, seen := facilities[f.ID]; !seen {
				facilities[f.ID] = f
			}
		}
	}
	return facilities, nil
}

func (c *Client) fetchListingPage(ctx context.Context, s *Session, page int) ([]byte, error) {
	return c.do(ctx, s, func(ctx context.Context) (*http.Request, error) {
		u, err := url.Parse(c.cfg.Listing.URL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range c.cfg.Listing.Params {
			q.Set(k, v)
		}
		q.Set("pageUnit", strconv.Itoa(c.cfg.Listing.PageSize))
		q.Set("pageIndex", strconv.Itoa(page))
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	})
}

// MaxPageIndex returns the largest pageIndex the page links to, or 1. The
// site never reports a total page count.
func MaxPageIndex(body []byte) int {
	maxPage := 1
	for _, m := range pageIndexRe.FindAllSubmatch(body, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > maxPage {
			maxPage = n
		}
	}
	return maxPage
}

// ParseListing extracts facilities from one listing page. Items that cannot
// be read are reported in parseErrs and do not stop the rest of the page.
func ParseListing(body []byte, page int) (items []slot.Facility, parseErrs []*ParseError, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse listing html: %w", err)
	}

	doc.Find("li.reserve_box_item").Each(func(i int, li *goquery.Selection) {
		f, reason := parseListingItem(li)
		if reason != "" {
			parseErrs = append(parseErrs, &ParseError{Page: page, Index: i, Reason: reason})
			return
		}
		items = append(items, f)
	})
	return items, parseErrs, nil
}

func parseListingItem(li *goquery.Selection) (slot.Facility, string) {
	link := li.Find(reserveLinkSelector).First()
	if link.Length() == 0 {
		return slot.Facility{}, "no reservation link"
	}
	href, _ := link.Attr("href")
	m := resveIDRe.FindStringSubmatch(href)
	if m == nil {
		return slot.Facility{}, fmt.Sprintf("no resveId in %q", href)
	}

	titleDiv := li.Find("div.reserve_title").First()
	if titleDiv.Length() == 0 {
		return slot.Facility{}, "no title"
	}
	location := collapse(titleDiv.Find("div.reserve_position").First().Text())

	title := titleDiv.Clone()
	title.Find("div.reserve_position").Remove()

	return slot.Facility{
		ID:       m[1],
		Title:    collapse(title.Text()),
		Location: location,
	}, ""
}

// collapse flattens HTML indentation into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
