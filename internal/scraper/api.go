package scraper

import (
	"encoding/json"
	"fmt"
)

// TimesResponse models the per-date open slot endpoint's JSON body.
type TimesResponse struct {
	ResveTmList []TimeEntry `json:"resveTmList"`
}

// TimeEntry is one open time for the requested facility and date.
type TimeEntry struct {
	TimeContent string     `json:"timeContent"`
	ResveID     flexString `json:"resveId"`
}

// flexString accepts a JSON string, number or null. The site is not
// consistent about how it encodes reservation ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("resveId: %w", err)
	}
	*f = flexString(n.String())
	return nil
}
