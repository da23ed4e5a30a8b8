package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"binance-ai-trader-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	testnetAPIURL = "https://testnet.binance.vision"
	statusTrading = "TRADING"
)

// Credentials are one user's API keys.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// BinanceExchange implements Exchange on top of the Binance spot REST API.
// Market data is read through an unauthenticated client, orders and balances through the
// requesting user's own client. All calls share one rate limiter.
type BinanceExchange struct {
	public  *binance.Client
	clients map[int64]*binance.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger

	stream         *PriceStream
	priceMaxAge    time.Duration
	filterCacheTTL time.Duration

	filterMu       sync.Mutex
	filters        map[string]models.SymbolFilter
	filtersFetched time.Time
}

// NewBinanceExchange builds the connector. stream may be nil, in which case every price is
// fetched over REST.
func NewBinanceExchange(cfg models.ExchangeConfig, testnet bool, accounts map[int64]Credentials, stream *PriceStream, logger *zap.Logger) *BinanceExchange {
	baseURL := cfg.APIURL
	if baseURL == "" && testnet {
		baseURL = testnetAPIURL
	}
	newClient := func(key, secret string) *binance.Client {
		c := binance.NewClient(key, secret)
		if baseURL != "" {
			c.BaseURL = baseURL
		}
		return c
	}

	clients := make(map[int64]*binance.Client, len(accounts))
	for id, cred := range accounts {
		clients[id] = newClient(cred.APIKey, cred.SecretKey)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &BinanceExchange{
		public:         newClient("", ""),
		clients:        clients,
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		timeout:        secondsOr(cfg.TimeoutSeconds, 10),
		logger:         logger,
		stream:         stream,
		priceMaxAge:    secondsOr(cfg.PriceMaxAgeSeconds, 10),
		filterCacheTTL: time.Duration(cfg.FilterCacheMinutes) * time.Minute,
	}
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// call waits for the rate limiter and derives the per-request deadline.
func (e *BinanceExchange) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	return callCtx, cancel, nil
}

func (e *BinanceExchange) client(userID int64) (*binance.Client, error) {
	c, ok := e.clients[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	return c, nil
}

// GetLastPrice prefers a fresh streamed price and falls back to the ticker endpoint.
func (e *BinanceExchange) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if e.stream != nil {
		if p, ok := e.stream.LastPrice(symbol, e.priceMaxAge); ok {
			return p, nil
		}
	}

	callCtx, cancel, err := e.call(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer cancel()

	prices, err := e.public.NewListPricesService().Symbol(symbol).Do(callCtx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get price %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse price %s %q: %w", symbol, p.Price, err)
		}
		if !price.IsPositive() {
			break
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
}

func (e *BinanceExchange) PlaceMarketBuy(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error) {
	return e.placeMarket(ctx, userID, symbol, binance.SideTypeBuy, qty, clientOrderID)
}

func (e *BinanceExchange) PlaceMarketSell(ctx context.Context, userID int64, symbol string, qty decimal.Decimal, clientOrderID string) (*models.Order, error) {
	return e.placeMarket(ctx, userID, symbol, binance.SideTypeSell, qty, clientOrderID)
}

func (e *BinanceExchange) placeMarket(ctx context.Context, userID int64, symbol string, side binance.SideType, qty decimal.Decimal, clientOrderID string) (*models.Order, error) {
	c, err := e.client(userID)
	if err != nil {
		return nil, err
	}
	callCtx, cancel, err := e.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	svc := c.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}
	resp, err := svc.Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("place %s %s %s for user %d: %w", side, qty, symbol, userID, err)
	}

	order := orderFromResponse(resp)
	e.logger.Info("Market order filled",
		zap.Int64("user", userID),
		zap.String("symbol", symbol),
		zap.String("side", order.Side),
		zap.String("clientOrderId", order.ClientOrderID),
		zap.String("executedQty", order.ExecutedQty.String()),
		zap.String("avgPrice", order.AvgPrice.String()))
	return order, nil
}

func orderFromResponse(resp *binance.CreateOrderResponse) *models.Order {
	order := &models.Order{
		Symbol:        resp.Symbol,
		Side:          string(resp.Side),
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        string(resp.Status),
		ExecutedQty:   parseDecimal(resp.ExecutedQuantity),
	}
	quote := parseDecimal(resp.CummulativeQuoteQuantity)

	var fillQty, fillQuote decimal.Decimal
	for _, f := range resp.Fills {
		if f == nil {
			continue
		}
		q := parseDecimal(f.Quantity)
		fillQty = fillQty.Add(q)
		fillQuote = fillQuote.Add(q.Mul(parseDecimal(f.Price)))
		order.Commission = order.Commission.Add(parseDecimal(f.Commission))
	}

	switch {
	case order.ExecutedQty.IsPositive() && quote.IsPositive():
		order.AvgPrice = quote.Div(order.ExecutedQty).Round(models.PriceScale)
	case fillQty.IsPositive():
		order.AvgPrice = fillQuote.Div(fillQty).Round(models.PriceScale)
	}
	if order.ExecutedQty.IsZero() {
		order.ExecutedQty = fillQty
	}
	return order
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (e *BinanceExchange) GetFreeBalance(ctx context.Context, userID int64, asset string) (decimal.Decimal, error) {
	c, err := e.client(userID)
	if err != nil {
		return decimal.Zero, err
	}
	callCtx, cancel, err := e.call(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer cancel()

	account, err := c.NewGetAccountService().Do(callCtx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account for user %d: %w", userID, err)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parseDecimal(b.Free), nil
		}
	}
	return decimal.Zero, nil
}

func (e *BinanceExchange) GetAllSymbols(ctx context.Context) ([]string, error) {
	filters, err := e.GetExchangeFilters(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(filters))
	for s := range filters {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// GetExchangeFilters returns the trading rules of every spot symbol currently trading.
// The result is cached for the configured number of minutes.
func (e *BinanceExchange) GetExchangeFilters(ctx context.Context) (map[string]models.SymbolFilter, error) {
	e.filterMu.Lock()
	defer e.filterMu.Unlock()
	if e.filters != nil && time.Since(e.filtersFetched) < e.filterCacheTTL {
		return e.filters, nil
	}

	callCtx, cancel, err := e.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	info, err := e.public.NewExchangeInfoService().Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}

	filters := make(map[string]models.SymbolFilter, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != statusTrading || !s.IsSpotTradingAllowed {
			continue
		}
		f := models.SymbolFilter{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		if lot := s.LotSizeFilter(); lot != nil {
			f.StepSize = parseDecimal(lot.StepSize)
			f.MinQty = parseDecimal(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.TickSize = parseDecimal(pf.TickSize)
		}
		f.MinNotional = minNotional(s.Filters)
		filters[s.Symbol] = f
	}

	e.filters = filters
	e.filtersFetched = time.Now()
	e.logger.Debug("Exchange filters refreshed", zap.Int("symbols", len(filters)))
	return filters, nil
}

// minNotional reads the NOTIONAL filter, or the older MIN_NOTIONAL one.
func minNotional(raw []map[string]interface{}) decimal.Decimal {
	for _, f := range raw {
		ft, _ := f["filterType"].(string)
		if ft != "NOTIONAL" && ft != "MIN_NOTIONAL" {
			continue
		}
		if v, ok := f["minNotional"].(string); ok {
			return parseDecimal(v)
		}
	}
	return decimal.Zero
}

func (e *BinanceExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	callCtx, cancel, err := e.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	svc := e.public.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("get klines %s %s: %w", symbol, interval, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Timeframe: interval,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Open:      parseDecimal(k.Open),
			High:      parseDecimal(k.High),
			Low:       parseDecimal(k.Low),
			Close:     parseDecimal(k.Close),
			Volume:    parseDecimal(k.Volume),
		})
	}
	return candles, nil
}

// AccountsFromEnv resolves each configured user's credentials from the environment variables it names.
// Users whose variables are empty are skipped and reported.
func AccountsFromEnv(users []models.UserAccount, getenv func(string) string) (map[int64]Credentials, []int64) {
	accounts := make(map[int64]Credentials, len(users))
	var missing []int64
	for _, u := range users {
		key, secret := getenv(u.APIKeyEnv), getenv(u.SecretKeyEnv)
		if key == "" || secret == "" {
			missing = append(missing, u.ID)
			continue
		}
		accounts[u.ID] = Credentials{APIKey: key, SecretKey: secret}
	}
	return accounts, missing
}

