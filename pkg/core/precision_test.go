package core

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("50000.5")
	require.NoError(t, err)
	assert.Equal(t, "50000.5", d.String())

	d, err = ParseDecimal("")
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = ParseDecimal("not-a-number")
	assert.Error(t, err)
}

func TestToPrecision(t *testing.T) {
	tests := []struct {
		value    string
		decimals float64
		want     string
	}{
		{"0.123456", 4, "0.1234"},
		{"0.123456", 8, "0.123456"},
		{"100.000", 2, "100"},
		{"10000.109", 2, "10000.1"},
		{"0.999999", 0, "0"},
		{"1234.5678", 0, "1234"},
	}
	for _, tt := range tests {
		d, _, err := apd.NewFromString(tt.value)
		require.NoError(t, err)

		got, err := ToPrecision(d, tt.decimals)
		require.NoError(t, err, "value %s decimals %v", tt.value, tt.decimals)
		assert.Equal(t, tt.want, got, "value %s decimals %v", tt.value, tt.decimals)
	}
}

func TestToPrecision_NilValue(t *testing.T) {
	_, err := ToPrecision(nil, 2)
	assert.Error(t, err)
}

func TestToPrecision_TruncatesNotRounds(t *testing.T) {
	d, _, err := apd.NewFromString("0.99999")
	require.NoError(t, err)

	got, err := ToPrecision(d, 2)
	require.NoError(t, err)
	assert.Equal(t, "0.99", got)
}
