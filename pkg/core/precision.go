package core

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// DecimalContext is the shared arithmetic context for price and amount math.
// 34 digits matches IEEE decimal128 and is far beyond any exchange tick size.
var DecimalContext = apd.BaseContext.WithPrecision(34)

// ParseDecimal parses an exchange-reported numeric string. Empty strings
// normalize to nil, mirroring a field absent from the payload.
func ParseDecimal(s string) (*apd.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// ToPrecision truncates value to the given number of decimal places and
// renders it without trailing zeros, the form exchanges expect in order
// size and price fields. The count arrives as a float because markets carry
// precision that way; it is used through its integer part.
func ToPrecision(value *apd.Decimal, decimals float64) (string, error) {
	if value == nil {
		return "", fmt.Errorf("nil value")
	}
	places := int32(decimals)

	ctx := DecimalContext.WithPrecision(34)
	ctx.Rounding = apd.RoundDown

	var out apd.Decimal
	if _, err := ctx.Quantize(&out, value, -places); err != nil {
		return "", fmt.Errorf("quantize to %d places: %w", places, err)
	}
	out.Reduce(&out)
	return out.Text('f'), nil
}
