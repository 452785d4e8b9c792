package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

func consensusFor(symbol string, price float64) domain.ConsensusPrice {
	return domain.ConsensusPrice{
		Symbol: symbol,
		Price:  price,
		Method: domain.MethodWeightedMean,
	}
}

func TestStoreAndGet(t *testing.T) {
	c := New()

	_, ok := c.Get("AAPL")
	assert.False(t, ok)

	canonical := []domain.CanonicalQuote{
		{Symbol: "AAPL", Price: 100, Source: domain.SourceFinnhub},
	}
	c.Store("AAPL", consensusFor("AAPL", 100), canonical)

	entry, ok := c.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 100.0, entry.LastConsensus.Price)
	assert.Len(t, entry.LastCanonicalSet, 1)
	assert.Greater(t, entry.LastUpdatedAt, int64(0))
}

func TestStoreReplacesEntry(t *testing.T) {
	c := New()
	c.Store("AAPL", consensusFor("AAPL", 100), nil)
	c.Store("AAPL", consensusFor("AAPL", 101.5), nil)

	entry, ok := c.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 101.5, entry.LastConsensus.Price)
	assert.Len(t, c.Symbols(), 1)
}

func TestGetReturnsCopy(t *testing.T) {
	c := New()
	c.Store("AAPL", consensusFor("AAPL", 100), []domain.CanonicalQuote{
		{Symbol: "AAPL", Price: 100},
	})

	entry, _ := c.Get("AAPL")
	entry.LastCanonicalSet[0].Price = 999

	fresh, _ := c.Get("AAPL")
	assert.Equal(t, 100.0, fresh.LastCanonicalSet[0].Price)
}

func TestStoreCopiesInputSlice(t *testing.T) {
	c := New()
	canonical := []domain.CanonicalQuote{{Symbol: "AAPL", Price: 100}}
	c.Store("AAPL", consensusFor("AAPL", 100), canonical)

	canonical[0].Price = 999

	entry, _ := c.Get("AAPL")
	assert.Equal(t, 100.0, entry.LastCanonicalSet[0].Price)
}

func TestSnapshot(t *testing.T) {
	c := New()
	c.Store("AAPL", consensusFor("AAPL", 100), []domain.CanonicalQuote{{Symbol: "AAPL", Price: 100}})
	c.Store("MSFT", consensusFor("MSFT", 300), []domain.CanonicalQuote{{Symbol: "MSFT", Price: 300}})

	snap := c.Snapshot()
	assert.Len(t, snap.LastAggregated, 2)
	assert.Equal(t, 100.0, snap.LastAggregated["AAPL"].Price)
	assert.Equal(t, 300.0, snap.LastAggregated["MSFT"].Price)
	assert.Len(t, snap.LastNormalized["MSFT"], 1)
	assert.Greater(t, snap.UpdatedAt, int64(0))
}

func TestConcurrentAccess(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Store("AAPL", consensusFor("AAPL", float64(j)), nil)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Get("AAPL")
				c.Snapshot()
			}
		}()
	}
	wg.Wait()

	_, ok := c.Get("AAPL")
	assert.True(t, ok)
}
