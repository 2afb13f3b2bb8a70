package exchange

import (
	"sync"

	"nakula/pkg/core"
)

// MarketCache holds the session's market metadata, indexed by unified symbol
// and by exchange-native instrument id. The cache is owned by the client
// runtime; adapters treat its contents as read-only after loading.
type MarketCache struct {
	mu       sync.RWMutex
	bySymbol map[string]*core.Market
	byID     map[string]*core.Market
}

// NewMarketCache creates an empty market cache.
func NewMarketCache() *MarketCache {
	return &MarketCache{
		bySymbol: make(map[string]*core.Market),
		byID:     make(map[string]*core.Market),
	}
}

// Replace swaps the cache contents with the given markets.
func (c *MarketCache) Replace(markets []core.Market) {
	bySymbol := make(map[string]*core.Market, len(markets))
	byID := make(map[string]*core.Market, len(markets))
	for i := range markets {
		m := &markets[i]
		bySymbol[m.Symbol] = m
		byID[m.ID] = m
	}

	c.mu.Lock()
	c.bySymbol = bySymbol
	c.byID = byID
	c.mu.Unlock()
}

// BySymbol looks up a market by unified symbol (e.g. "BTC/USDT").
func (c *MarketCache) BySymbol(symbol string) (*core.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.bySymbol[symbol]
	return m, ok
}

// ByID looks up a market by exchange-native instrument id (e.g. "BTC-USDT").
func (c *MarketCache) ByID(id string) (*core.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	return m, ok
}

// Symbols returns all cached unified symbols.
func (c *MarketCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.bySymbol))
	for symbol := range c.bySymbol {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Markets returns a snapshot of all cached markets.
func (c *MarketCache) Markets() []core.Market {
	c.mu.RLock()
	defer c.mu.RUnlock()

	markets := make([]core.Market, 0, len(c.bySymbol))
	for _, m := range c.bySymbol {
		markets = append(markets, *m)
	}
	return markets
}

// Loaded reports whether the cache has been primed.
func (c *MarketCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySymbol) > 0
}
