// Package currency canonicalizes exchange-native currency identifiers.
//
// Exchanges occasionally list assets under legacy or proprietary tickers.
// Normalizers upper-case the exchange identifier and pass it through the
// alias table here so that the same asset maps to the same code across
// adapters.
package currency

import "strings"

// aliases maps known exchange-specific tickers to canonical codes.
var aliases = map[string]string{
	"XBT":    "BTC",
	"BCC":    "BCH",
	"BCHABC": "BCH",
	"BCHSV":  "BSV",
	"DRK":    "DASH",
	"DSH":    "DASH",
	"STR":    "XLM",
	"XDG":    "DOGE",
}

// Canonical returns the unified code for an exchange-native currency
// identifier. Unknown identifiers are returned upper-cased.
func Canonical(id string) string {
	code := strings.ToUpper(id)
	if canonical, ok := aliases[code]; ok {
		return canonical
	}
	return code
}
