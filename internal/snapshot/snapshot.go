// Package snapshot keeps the latest successful crawl in memory for the read
// API. It is independent of the alarm pipeline.
package snapshot

import (
	"time"

	"github.com/patrickmn/go-cache"

	"tennis-alarm-backend/internal/slot"
)

const key = "latest"

// Snapshot is one successful crawl.
type Snapshot struct {
	Facilities map[string]slot.Facility
	Entries    []slot.AvailabilityEntry
	UpdatedAt  time.Time
}

// Cache holds the latest Snapshot. A failed crawl never clears it.
type Cache struct {
	store *cache.Cache
}

// New creates an empty snapshot cache.
func New() *Cache {
	return &Cache{store: cache.New(cache.NoExpiration, 0)}
}

// Set replaces the held snapshot.
func (c *Cache) Set(s Snapshot) {
	c.store.Set(key, s, cache.NoExpiration)
}

// Get returns the held snapshot, or false before the first successful crawl.
func (c *Cache) Get() (Snapshot, bool) {
	v, found := c.store.Get(key)
	if !found {
		return Snapshot{}, false
	}
	return v.(Snapshot), true
}

// Version identifies the held snapshot; it changes on every Set.
func (c *Cache) Version() string {
	s, ok := c.Get()
	if !ok {
		return "empty"
	}
	return s.UpdatedAt.UTC().Format(time.RFC3339Nano)
}
