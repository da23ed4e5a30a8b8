package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"binance-ai-trader-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const (
	tradePrefix    = "trade/"
	openPrefix     = "open/"
	pairPrefix     = "pair/"
	userPrefix     = "user/"
	strategyPrefix = "strategy/"
	candlePrefix   = "candle/"
)

// BadgerStore is the BadgerDB implementation of Store.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a store at dbPath. An empty path opens an in-memory store.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger's own logging is disabled; errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dbPath, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close gracefully closes the connection to the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func tradeKey(id string) []byte { return []byte(tradePrefix + id) }
func openKey(userID int64, symbol string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", openPrefix, userID, symbol))
}
func pairKey(userID int64, symbol string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", pairPrefix, userID, symbol))
}
func userKey(userID int64) []byte { return []byte(fmt.Sprintf("%s%d", userPrefix, userID)) }
func strategyKey(userID int64, t models.StrategyType) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", strategyPrefix, userID, t))
}
func candleSeriesPrefix(symbol, timeframe string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/", candlePrefix, symbol, timeframe))
}
func candleKey(c models.Candle) []byte {
	return append(candleSeriesPrefix(c.Symbol, c.Timeframe), []byte(fmt.Sprintf("%020d", c.OpenTime.UnixMilli()))...)
}

// getJSON reads key into v inside txn, mapping a missing key to ErrNotFound.
func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if len(val) == 0 {
			return fmt.Errorf("value of %q is empty in database", key)
		}
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scan calls fn with the value of every key under prefix.
func (s *BadgerStore) scan(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- trades ---

func (s *BadgerStore) OpenTrade(trade *models.TradeLog) error {
	if trade.ID == "" {
		return errors.New("trade id is required")
	}
	if trade.Closed {
		return errors.New("cannot open a closed trade")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		idx := openKey(trade.UserID, trade.Symbol)
		_, err := txn.Get(idx)
		if err == nil {
			return fmt.Errorf("%w: user %d %s", ErrPositionOpen, trade.UserID, trade.Symbol)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, tradeKey(trade.ID), trade); err != nil {
			return err
		}
		return txn.Set(idx, []byte(trade.ID))
	})
}

func (s *BadgerStore) CloseTrade(id string, exit models.TradeExit) (*models.TradeLog, error) {
	var closed models.TradeLog
	err := s.db.Update(func(txn *badger.Txn) error {
		var t models.TradeLog
		if err := getJSON(txn, tradeKey(id), &t); err != nil {
			return err
		}
		if t.Closed {
			return fmt.Errorf("%w: %s", ErrTradeClosed, id)
		}
		exitTime, exitPrice, pnl := exit.Time, exit.Price, exit.PnL
		t.ExitTime = &exitTime
		t.ExitPrice = &exitPrice
		t.PnL = &pnl
		t.ExitClientOrderID = exit.ClientOrderID
		t.ExitReason = exit.Reason
		t.ClosedBy = exit.ClosedBy
		t.Closed = true
		if err := setJSON(txn, tradeKey(id), &t); err != nil {
			return err
		}
		closed = t
		return txn.Delete(openKey(t.UserID, t.Symbol))
	})
	// The trade key is only rewritten by closes, so losing a write conflict means another close won.
	if errors.Is(err, badger.ErrConflict) {
		return nil, fmt.Errorf("%w: %s", ErrTradeClosed, id)
	}
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

func (s *BadgerStore) Trade(id string) (*models.TradeLog, error) {
	var t models.TradeLog
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, tradeKey(id), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BadgerStore) OpenTrades() ([]models.TradeLog, error) {
	var trades []models.TradeLog
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(openPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var t models.TradeLog
			if err := getJSON(txn, tradeKey(string(id)), &t); err != nil {
				return fmt.Errorf("open index points at %s: %w", id, err)
			}
			trades = append(trades, t)
		}
		return nil
	})
	return trades, err
}

func (s *BadgerStore) HasOpenTrade(userID int64, symbol string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(openKey(userID, symbol))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) closedTrades(keep func(t *models.TradeLog) bool) ([]models.TradeLog, error) {
	var trades []models.TradeLog
	err := s.scan([]byte(tradePrefix), func(val []byte) error {
		var t models.TradeLog
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		if t.Closed && keep(&t) {
			trades = append(trades, t)
		}
		return nil
	})
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExitTime.Before(*trades[j].ExitTime)
	})
	return trades, err
}

func (s *BadgerStore) RecentClosedProfitable(userID int64, since time.Time) ([]models.TradeLog, error) {
	return s.closedTrades(func(t *models.TradeLog) bool {
		return t.UserID == userID && t.PnL != nil && t.PnL.IsPositive() &&
			t.ExitTime != nil && !t.ExitTime.Before(since)
	})
}

func (s *BadgerStore) ClosedTrades(userID int64) ([]models.TradeLog, error) {
	return s.closedTrades(func(t *models.TradeLog) bool {
		return t.UserID == userID && t.ExitTime != nil
	})
}

// --- pairs ---

func (s *BadgerStore) UpsertPair(pair models.ProfitablePair) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, pairKey(pair.UserID, pair.Symbol), &pair)
	})
}

func (s *BadgerStore) Pair(userID int64, symbol string) (*models.ProfitablePair, error) {
	var p models.ProfitablePair
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, pairKey(userID, symbol), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BadgerStore) activePairs(prefix string) ([]models.ProfitablePair, error) {
	var pairs []models.ProfitablePair
	err := s.scan([]byte(prefix), func(val []byte) error {
		var p models.ProfitablePair
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		if p.Active {
			pairs = append(pairs, p)
		}
		return nil
	})
	return pairs, err
}

func (s *BadgerStore) ActivePairs(userID int64) ([]models.ProfitablePair, error) {
	return s.activePairs(fmt.Sprintf("%s%d/", pairPrefix, userID))
}

func (s *BadgerStore) AllActivePairs() ([]models.ProfitablePair, error) {
	return s.activePairs(pairPrefix)
}

func (s *BadgerStore) SetPairActive(userID int64, symbol string, active bool) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var p models.ProfitablePair
		if err := getJSON(txn, pairKey(userID, symbol), &p); err != nil {
			return err
		}
		p.Active = active
		p.UpdatedAt = time.Now()
		return setJSON(txn, pairKey(userID, symbol), &p)
	})
}

// --- settings ---

func (s *BadgerStore) SaveUserSettings(settings models.UserSettings) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(settings.UserID), &settings)
	})
}

func (s *BadgerStore) UserSettings(userID int64) (*models.UserSettings, error) {
	var us models.UserSettings
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userID), &us)
	})
	if err != nil {
		return nil, err
	}
	return &us, nil
}

func (s *BadgerStore) ListUserSettings() ([]models.UserSettings, error) {
	var out []models.UserSettings
	err := s.scan([]byte(userPrefix), func(val []byte) error {
		var us models.UserSettings
		if err := json.Unmarshal(val, &us); err != nil {
			return err
		}
		out = append(out, us)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, err
}

func (s *BadgerStore) SaveStrategySettings(userID int64, settings models.StrategySettings) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, strategyKey(userID, settings.StrategyType()), settings)
	})
}

func (s *BadgerStore) StrategySettings(userID int64, t models.StrategyType) (models.StrategySettings, error) {
	settings := models.NewStrategySettings(t)
	if settings == nil {
		return nil, fmt.Errorf("unknown strategy type %q", t)
	}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, strategyKey(userID, t), settings)
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// --- candles ---

func (s *BadgerStore) SaveCandles(candles []models.Candle) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, c := range candles {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := wb.Set(candleKey(c), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) LoadCandles(symbol, timeframe string, limit int) ([]models.Candle, error) {
	prefix := candleSeriesPrefix(symbol, timeframe)
	var out []models.Candle
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var c models.Candle
				if err := json.Unmarshal(val, &c); err != nil {
					return err
				}
				out = append(out, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}
