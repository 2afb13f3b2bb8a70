package core

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderSideJSON(t *testing.T) {
	data, err := sonic.Marshal(SideSell)
	require.NoError(t, err)
	assert.Equal(t, `"sell"`, string(data))

	var side OrderSide
	require.NoError(t, sonic.Unmarshal([]byte(`"BUY"`), &side))
	assert.Equal(t, SideBuy, side)
}

func TestOrderTypeJSON(t *testing.T) {
	data, err := sonic.Marshal(TypeMarket)
	require.NoError(t, err)
	assert.Equal(t, `"market"`, string(data))

	var typ OrderType
	require.NoError(t, sonic.Unmarshal([]byte(`"limit"`), &typ))
	assert.Equal(t, TypeLimit, typ)
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.True(t, StatusOpen.IsCanonical())
	assert.True(t, StatusClosed.IsCanonical())
	assert.True(t, StatusCanceled.IsCanonical())
	assert.False(t, OrderStatus("settling").IsCanonical())

	assert.False(t, StatusOpen.IsTerminal())
	assert.True(t, StatusClosed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
}
