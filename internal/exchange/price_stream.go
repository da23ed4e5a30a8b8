package exchange

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultStreamURL = "wss://stream.binance.com:9443/ws/!miniTicker@arr"
	TestnetStreamURL = "wss://testnet.binance.vision/ws/!miniTicker@arr"

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type streamPrice struct {
	price decimal.Decimal
	at    time.Time
}

// miniTicker is one element of the all-market mini ticker stream.
type miniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// PriceStream keeps the last traded price of every symbol from the all-market mini ticker stream.
// It reconnects on its own until stopped.
type PriceStream struct {
	url            string
	logger         *zap.Logger
	reconnectDelay time.Duration

	mu     sync.RWMutex
	prices map[string]streamPrice

	connMu      sync.Mutex
	conn        *websocket.Conn
	stopChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewPriceStream(url string, logger *zap.Logger) *PriceStream {
	if url == "" {
		url = DefaultStreamURL
	}
	return &PriceStream{
		url:            url,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
		prices:         make(map[string]streamPrice),
		stopChannel:    make(chan struct{}),
	}
}

// Start launches the connection loop in the background.
func (s *PriceStream) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop closes the connection and waits for the loop to exit.
func (s *PriceStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChannel)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
}

// LastPrice returns the streamed price of symbol if it is younger than maxAge.
func (s *PriceStream) LastPrice(symbol string, maxAge time.Duration) (decimal.Decimal, bool) {
	s.mu.RLock()
	p, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok || time.Since(p.at) > maxAge {
		return decimal.Zero, false
	}
	return p.price, true
}

func (s *PriceStream) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChannel:
			s.logger.Info("Price stream stopped.")
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			s.logger.Warn("Price stream connection failed", zap.String("url", s.url), zap.Error(err))
			if !s.sleep(s.reconnectDelay) {
				return
			}
			continue
		}
		s.connMu.Lock()
		select {
		case <-s.stopChannel:
			s.connMu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conn = conn
		s.connMu.Unlock()

		s.logger.Info("Price stream connected.", zap.String("url", s.url))
		if err := s.read(conn); err != nil {
			select {
			case <-s.stopChannel:
			default:
				s.logger.Warn("Price stream disconnected", zap.Error(err))
			}
		}
		conn.Close()
		if !s.sleep(s.reconnectDelay) {
			return
		}
	}
}

// sleep waits for d and reports false when the stream was stopped meanwhile.
func (s *PriceStream) sleep(d time.Duration) bool {
	select {
	case <-s.stopChannel:
		return false
	case <-time.After(d):
		return true
	}
}

// read consumes messages from an established connection with a ping/pong keepalive.
func (s *PriceStream) read(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.connMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				s.connMu.Unlock()
				if err != nil {
					return
				}
			case <-pingStop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read price stream: %w", err)
		}
		if err := s.handleMessage(message, time.Now()); err != nil {
			s.logger.Debug("Skipping unparsable price message", zap.Error(err))
		}
	}
}

func (s *PriceStream) handleMessage(message []byte, at time.Time) error {
	var tickers []miniTicker
	if err := json.Unmarshal(message, &tickers); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickers {
		price, err := decimal.NewFromString(t.Close)
		if err != nil || !price.IsPositive() {
			continue
		}
		s.prices[t.Symbol] = streamPrice{price: price, at: at}
	}
	return nil
}
