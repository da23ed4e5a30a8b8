package exchange

import (
	"context"
	"strings"
	"testing"

	"binance-ai-trader-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		value, step, want string
	}{
		{"0.123456", "0.001", "0.123"},
		{"5.99", "1", "5"},
		{"0.2", "0.1", "0.2"},
		{"0.2", "0", "0.2"},
		{"0.00099", "0.001", "0"},
	}
	for _, tt := range tests {
		got := RoundToStep(dec(tt.value), dec(tt.step))
		assert.True(t, dec(tt.want).Equal(got), "RoundToStep(%s, %s) = %s", tt.value, tt.step, got)
	}
}

func TestAdjustQuantity(t *testing.T) {
	f := models.SymbolFilter{Symbol: "BTCUSDT", StepSize: dec("0.001"), MinQty: dec("0.001"), MinNotional: dec("10")}

	qty, err := AdjustQuantity(f, dec("0.2049"), dec("50"))
	require.NoError(t, err)
	assert.True(t, dec("0.204").Equal(qty))

	_, err = AdjustQuantity(f, dec("0.0004"), dec("50"))
	assert.ErrorIs(t, err, ErrBelowMinimum)

	// 0.1 * 50 = 5 < 10
	_, err = AdjustQuantity(f, dec("0.1"), dec("50"))
	assert.ErrorIs(t, err, ErrBelowMinimum)
}

func TestClientOrderIDIsDeterministic(t *testing.T) {
	id := NewTradeID()
	a := ClientOrderID(ExitOrderPrefix, id)
	b := ClientOrderID(ExitOrderPrefix, id)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, ExitOrderPrefix))
	assert.LessOrEqual(t, len(a), maxClientOrderID)

	assert.NotEqual(t, a, ClientOrderID(EntryOrderPrefix, id))
	assert.NotEqual(t, a, ClientOrderID(ExitOrderPrefix, NewTradeID()))

	long := ClientOrderID(ExitOrderPrefix, strings.Repeat("z", 80))
	assert.Len(t, long, maxClientOrderID)
}

func TestSettlementAsset(t *testing.T) {
	assert.Equal(t, "USDT", SettlementAsset("BTCUSDT"))
	assert.Equal(t, "BUSD", SettlementAsset("ETHBUSD"))
	assert.Equal(t, "BTC", SettlementAsset("ETHBTC"))
	assert.Equal(t, "ETH", SettlementAsset("LINKETH"))
	assert.Equal(t, "123", SettlementAsset("ABC123"))
}

func TestPaperExchangeBuySell(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(dec("0.001"), nil)
	ex.SetBalance(1, "USDT", dec("1000"))
	ex.SetPrice("BTCUSDT", dec("100"))

	buy, err := ex.PlaceMarketBuy(ctx, 1, "BTCUSDT", dec("2"), "e1")
	require.NoError(t, err)
	assert.Equal(t, "FILLED", buy.Status)
	assert.True(t, dec("100").Equal(buy.AvgPrice))
	assert.True(t, dec("0.2").Equal(buy.Commission))

	usdt, _ := ex.GetFreeBalance(ctx, 1, "USDT")
	btc, _ := ex.GetFreeBalance(ctx, 1, "BTC")
	assert.True(t, dec("799.8").Equal(usdt), usdt.String())
	assert.True(t, dec("2").Equal(btc))

	ex.SetPrice("BTCUSDT", dec("110"))
	sell, err := ex.PlaceMarketSell(ctx, 1, "BTCUSDT", dec("2"), "x1")
	require.NoError(t, err)
	assert.True(t, dec("110").Equal(sell.AvgPrice))

	usdt, _ = ex.GetFreeBalance(ctx, 1, "USDT")
	// 799.8 + 220 - 0.22
	assert.True(t, dec("1019.58").Equal(usdt), usdt.String())
	assert.Len(t, ex.Orders(), 2)
}

func TestPaperExchangeRejects(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(decimal.Zero, nil)
	ex.SetPrice("BTCUSDT", dec("100"))
	ex.Deposit(1, "USDT", dec("50"))

	_, err := ex.PlaceMarketBuy(ctx, 1, "BTCUSDT", dec("1"), "e1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = ex.PlaceMarketSell(ctx, 1, "BTCUSDT", dec("1"), "x1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = ex.PlaceMarketBuy(ctx, 1, "ETHUSDT", dec("0.1"), "e2")
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = ex.PlaceMarketBuy(ctx, 1, "BTCUSDT", dec("0.1"), "e3")
	require.NoError(t, err)
	_, err = ex.PlaceMarketBuy(ctx, 1, "BTCUSDT", dec("0.1"), "e3")
	assert.Error(t, err, "duplicate client order id")
}

func TestMinNotionalFilter(t *testing.T) {
	raw := []map[string]interface{}{
		{"filterType": "LOT_SIZE", "stepSize": "0.001"},
		{"filterType": "NOTIONAL", "minNotional": "5.00000000"},
	}
	assert.True(t, dec("5").Equal(minNotional(raw)))
	assert.True(t, minNotional(nil).IsZero())
}
