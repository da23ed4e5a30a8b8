package exchange

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

const (
	EntryOrderPrefix = "e"
	ExitOrderPrefix  = "x"
	// Binance rejects client order ids longer than 36 characters.
	maxClientOrderID = 36
)

// NewTradeID returns a fresh trade identifier.
func NewTradeID() string {
	return uuid.NewString()
}

// ClientOrderID derives a deterministic client order id from a trade id, so every submission for
// the same trade leg carries the same id. The exchange only rejects a reused id while the first
// order is still open; a filled market order does not block a second one.
func ClientOrderID(prefix, tradeID string) string {
	var raw []byte
	if u, err := uuid.Parse(tradeID); err == nil {
		raw = u[:]
	} else {
		raw = []byte(tradeID)
	}
	id := prefix + base62.EncodeToString(raw)
	if len(id) > maxClientOrderID {
		id = id[:maxClientOrderID]
	}
	return id
}
