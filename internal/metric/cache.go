package metric

import (
	"sort"
	"strings"
	"sync"

	"github.com/sells-group/market-atlas/internal/geo"
)

// CacheKey identifies one cache entry: a resolution plus, for county and
// ZIP, the sorted set of visible states joined by "-".
type CacheKey struct {
	Resolution geo.Resolution
	States     string
}

// NewCacheKey builds a key. States are ignored for resolutions that are not
// region scoped; for county and ZIP they are upper-cased, de-duplicated, and
// sorted so equal sets always produce equal keys.
func NewCacheKey(res geo.Resolution, states []string) CacheKey {
	if !res.RegionScoped() || len(states) == 0 {
		return CacheKey{Resolution: res}
	}
	set := make(map[string]struct{}, len(states))
	for _, s := range states {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	uniq := make([]string, 0, len(set))
	for s := range set {
		uniq = append(uniq, s)
	}
	sort.Strings(uniq)
	return CacheKey{Resolution: res, States: strings.Join(uniq, "-")}
}

// String renders the key as "metro" or "county_KS-MO".
func (k CacheKey) String() string {
	if k.States == "" {
		return k.Resolution.String()
	}
	return k.Resolution.String() + "_" + k.States
}

// StateList returns the scoped states, or nil for an unscoped key.
func (k CacheKey) StateList() []string {
	if k.States == "" {
		return nil
	}
	return strings.Split(k.States, "-")
}

// Cache maps keys to whole observation sets for one selected variable.
// Entries are written atomically per key and the cache is cleared as a
// whole; every clear starts a new generation so results from fetches begun
// before the clear are dropped.
type Cache struct {
	mu         sync.RWMutex
	entries    map[CacheKey][]Observation
	generation uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[CacheKey][]Observation)}
}

// Get returns the entry for key. Empty entries count as misses.
func (c *Cache) Get(key CacheKey) ([]Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obs, ok := c.entries[key]
	if !ok || len(obs) == 0 {
		return nil, false
	}
	return obs, true
}

// Put stores obs under key if gen is still the current generation. It
// reports whether the write was accepted.
func (c *Cache) Put(gen uint64, key CacheKey, obs []Observation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.entries[key] = obs
	return true
}

// Clear drops every entry and starts a new generation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey][]Observation)
	c.generation++
}

// Generation returns the current generation.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len returns the number of stored keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
