package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func sampleMarkets() []core.Market {
	return []core.Market{
		{ID: "BTC-USDT", Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT"},
		{ID: "ETH-BTC", Symbol: "ETH/BTC", Base: "ETH", Quote: "BTC"},
	}
}

func TestMarketCache(t *testing.T) {
	c := NewMarketCache()
	assert.False(t, c.Loaded())

	c.Replace(sampleMarkets())
	assert.True(t, c.Loaded())

	m, ok := c.BySymbol("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", m.ID)

	m, ok = c.ByID("ETH-BTC")
	require.True(t, ok)
	assert.Equal(t, "ETH/BTC", m.Symbol)

	_, ok = c.BySymbol("DOGE/USDT")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/BTC"}, c.Symbols())
	assert.Len(t, c.Markets(), 2)
}

func TestMarketCacheReplace(t *testing.T) {
	c := NewMarketCache()
	c.Replace(sampleMarkets())

	c.Replace([]core.Market{
		{ID: "DOGE-USDT", Symbol: "DOGE/USDT"},
	})

	_, ok := c.BySymbol("BTC/USDT")
	assert.False(t, ok, "replaced markets must not linger")

	m, ok := c.BySymbol("DOGE/USDT")
	require.True(t, ok)
	assert.Equal(t, "DOGE-USDT", m.ID)
}
