// Package cache holds the in-memory last-value store: the most recent
// consensus and canonical quote set per symbol. It is the only mutable
// shared structure in the core; the scheduler writes, debug readers
// snapshot.
package cache

import (
	"sync"
	"time"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

// Entry is one symbol's latest state.
type Entry struct {
	LastConsensus    domain.ConsensusPrice   `json:"last_consensus"`
	LastCanonicalSet []domain.CanonicalQuote `json:"last_canonical_set"`
	LastUpdatedAt    int64                   `json:"last_updated_at"`
}

// Snapshot is a point-in-time copy of the whole cache, shaped for the
// debug surface.
type Snapshot struct {
	LastAggregated map[string]domain.ConsensusPrice   `json:"last_aggregated"`
	LastNormalized map[string][]domain.CanonicalQuote `json:"last_normalized"`
	UpdatedAt      int64                              `json:"updated_at"`
}

// LastValue is a concurrent symbol-keyed map. Writes replace a whole
// entry so readers never observe a torn record. Not durable, no
// eviction.
type LastValue struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	updatedAt int64
}

// New creates an empty cache.
func New() *LastValue {
	return &LastValue{entries: make(map[string]Entry)}
}

// Store replaces the entry for symbol atomically.
func (c *LastValue) Store(symbol string, consensus domain.ConsensusPrice, canonical []domain.CanonicalQuote) {
	set := make([]domain.CanonicalQuote, len(canonical))
	copy(set, canonical)

	now := time.Now().UnixMilli()
	c.mu.Lock()
	c.entries[symbol] = Entry{
		LastConsensus:    consensus,
		LastCanonicalSet: set,
		LastUpdatedAt:    now,
	}
	c.updatedAt = now
	c.mu.Unlock()
}

// Get returns a consistent copy of one symbol's entry.
func (c *LastValue) Get(symbol string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return Entry{}, false
	}
	set := make([]domain.CanonicalQuote, len(entry.LastCanonicalSet))
	copy(set, entry.LastCanonicalSet)
	entry.LastCanonicalSet = set
	return entry, true
}

// Symbols returns the symbols currently cached.
func (c *LastValue) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.entries))
	for s := range c.entries {
		symbols = append(symbols, s)
	}
	return symbols
}

// Snapshot copies the whole cache for the debug surface.
func (c *LastValue) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		LastAggregated: make(map[string]domain.ConsensusPrice, len(c.entries)),
		LastNormalized: make(map[string][]domain.CanonicalQuote, len(c.entries)),
		UpdatedAt:      c.updatedAt,
	}
	for symbol, entry := range c.entries {
		snap.LastAggregated[symbol] = entry.LastConsensus
		set := make([]domain.CanonicalQuote, len(entry.LastCanonicalSet))
		copy(set, entry.LastCanonicalSet)
		snap.LastNormalized[symbol] = set
	}
	return snap
}
