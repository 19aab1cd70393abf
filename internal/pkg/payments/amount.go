package payments

import (
	"fmt"
	"strings"
)

// Currencies whose minor unit equals the major unit on the provider side.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// FormatAmountMinor renders a minor-unit amount as the decimal string the
// tracking endpoint expects: 999 stays "999" for zero-decimal currencies and
// becomes "9.99" otherwise. Negative amounts clamp to zero.
func FormatAmountMinor(amountMinor int64, currency string) string {
	if amountMinor < 0 {
		amountMinor = 0
	}
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return fmt.Sprintf("%d", amountMinor)
	}
	return fmt.Sprintf("%d.%02d", amountMinor/100, amountMinor%100)
}
