// Package slot holds the crawl data model and the flat slot sequence the
// alarm engine diffs against.
package slot

import (
	"sort"

	"tennis-alarm-backend/internal/parse"
)

// Facility is one bookable court as listed on the reservation site.
type Facility struct {
	ID       string `json:"-"`
	Title    string `json:"title"`
	Location string `json:"location"`
}

// AvailabilityEntry is one open time on one date at one facility.
// TimeContent is the slot identity within a date and is never parsed.
type AvailabilityEntry struct {
	FacilityID     string
	Date           string // YYYYMMDD
	TimeContent    string
	ReservationRef string
}

// FlatSlot is the unit compared by the alarm engine.
type FlatSlot struct {
	FacilityID string
	Date       string
	Time       string
	CourtGroup string
}

// GroupMap maps a court group to the facility ids currently in it.
type GroupMap map[string][]string

// Flatten resolves each entry's court group from the current facility set.
// Entries for facilities missing from the catalog get an empty group.
func Flatten(facilities map[string]Facility, entries []AvailabilityEntry) []FlatSlot {
	groups := make(map[string]string, len(facilities))
	for id, f := range facilities {
		groups[id] = parse.CourtGroup(f.Title)
	}

	slots := make([]FlatSlot, 0, len(entries))
	for _, e := range entries {
		slots = append(slots, FlatSlot{
			FacilityID: e.FacilityID,
			Date:       e.Date,
			Time:       e.TimeContent,
			CourtGroup: groups[e.FacilityID],
		})
	}
	return slots
}

// BuildGroupMap groups facility ids by court group. Facilities whose group is
// empty cannot be subscribed to and are left out. Ids are sorted per group.
func BuildGroupMap(facilities map[string]Facility) GroupMap {
	groups := make(GroupMap)
	for id, f := range facilities {
		g := parse.CourtGroup(f.Title)
		if g == "" {
			continue
		}
		groups[g] = append(groups[g], id)
	}
	for _, ids := range groups {
		sort.Strings(ids)
	}
	return groups
}

// Names returns the group names in sorted order.
func (m GroupMap) Names() []string {
	names := make([]string, 0, len(m))
	for g := range m {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// SlotView is the read-API shape of one open time.
type SlotView struct {
	TimeContent string `json:"timeContent"`
	ResveID     string `json:"resveId,omitempty"`
}

// Nest converts flat entries into facility -> date -> slots, the shape the
// browser client reads.
func Nest(entries []AvailabilityEntry) map[string]map[string][]SlotView {
	out := make(map[string]map[string][]SlotView)
	for _, e := range entries {
		days, ok := out[e.FacilityID]
		if !ok {
			days = make(map[string][]SlotView)
			out[e.FacilityID] = days
		}
		days[e.Date] = append(days[e.Date], SlotView{TimeContent: e.TimeContent, ResveID: e.ReservationRef})
	}
	return out
}

// SortEntries orders entries by facility, date, then time so crawl output is
// deterministic regardless of fetch completion order.
func SortEntries(entries []AvailabilityEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.FacilityID != b.FacilityID {
			return a.FacilityID < b.FacilityID
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.TimeContent < b.TimeContent
	})
}
