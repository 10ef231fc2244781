package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts must not start inside a longer number: "1299.50 €" is not 50 €.
var (
	// 1.299,50 € / 379,99 EUR / od 1.200 €
	priceSuffixed = regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3}(?:\.\d{3})+|\d+)(?:,(\d{1,2}))?\s*(€|EUR)`)
	// € 1.299,50
	pricePrefixed = regexp.MustCompile(`(€|EUR)\s*(\d{1,3}(?:\.\d{3})+|\d+)(?:,(\d{1,2}))?`)
	// 1.299,50 without a currency marker
	priceBare = regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3}(?:\.\d{3})+|\d+),(\d{2})\b`)
)

// ParsePrice reads the first price out of free text written with "." as the
// thousands separator and "," as the decimal separator. The currency is
// "EUR" when the text carries a euro marker and "" otherwise. Text without a
// recognizable price yields zero.
func ParsePrice(text string) (decimal.Decimal, string) {
	if m := priceSuffixed.FindStringSubmatch(text); m != nil {
		return toDecimal(m[1], m[2]), "EUR"
	}
	if m := pricePrefixed.FindStringSubmatch(text); m != nil {
		return toDecimal(m[2], m[3]), "EUR"
	}
	if m := priceBare.FindStringSubmatch(text); m != nil {
		return toDecimal(m[1], m[2]), ""
	}
	return decimal.Zero.Round(2), ""
}

func toDecimal(whole, frac string) decimal.Decimal {
	whole = strings.ReplaceAll(whole, ".", "")
	if frac == "" {
		frac = "0"
	}
	d, err := decimal.NewFromString(whole + "." + frac)
	if err != nil {
		return decimal.Zero.Round(2)
	}
	return d.Round(2)
}
