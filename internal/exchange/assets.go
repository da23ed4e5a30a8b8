package exchange

import "strings"

var settlementAssets = []string{"USDT", "BUSD", "BTC", "ETH"}

// SettlementAsset returns the quote asset a symbol is settled in. Known quote suffixes are
// matched first, otherwise the leading run of letters is stripped.
func SettlementAsset(symbol string) string {
	for _, q := range settlementAssets {
		if strings.HasSuffix(symbol, q) {
			return q
		}
	}
	return strings.TrimLeft(symbol, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
}
