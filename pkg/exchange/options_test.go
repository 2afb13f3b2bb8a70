package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyOptions(t *testing.T) {
	since := time.Date(2020, 3, 16, 0, 0, 0, 0, time.UTC)

	o := ApplyOptions(
		WithLimit(50),
		WithTimeframe("1h"),
		WithSince(since),
		WithStatus("filled"),
	)

	assert.Equal(t, 50, o.Limit)
	assert.Equal(t, "1h", o.Timeframe)
	assert.Equal(t, since, o.Since)
	assert.Equal(t, "filled", o.Status)
}

func TestApplyOptionsDefaults(t *testing.T) {
	o := ApplyOptions()

	assert.Zero(t, o.Limit)
	assert.Empty(t, o.Timeframe)
	assert.True(t, o.Since.IsZero())
	assert.Empty(t, o.Status)
}
