package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPriceStreamReceivesTickers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"e":"24hrMiniTicker","s":"BTCUSDT","c":"10050.5"},{"s":"ETHUSDT","c":"bad"}]`))
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewPriceStream("ws"+strings.TrimPrefix(srv.URL, "http"), zap.NewNop())
	stream.Start()
	defer stream.Stop()

	require.Eventually(t, func() bool {
		_, ok := stream.LastPrice("BTCUSDT", time.Minute)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	p, _ := stream.LastPrice("BTCUSDT", time.Minute)
	assert.True(t, decimal.RequireFromString("10050.5").Equal(p))

	_, ok := stream.LastPrice("ETHUSDT", time.Minute)
	assert.False(t, ok, "unparsable price must be ignored")
}

func TestPriceStreamStaleness(t *testing.T) {
	stream := NewPriceStream("", zap.NewNop())
	require.NoError(t, stream.handleMessage([]byte(`[{"s":"BTCUSDT","c":"100"}]`), time.Now().Add(-time.Minute)))

	_, ok := stream.LastPrice("BTCUSDT", 10*time.Second)
	assert.False(t, ok)
	_, ok = stream.LastPrice("BTCUSDT", 2*time.Minute)
	assert.True(t, ok)

	assert.Error(t, stream.handleMessage([]byte(`{"not":"an array"}`), time.Now()))
}
