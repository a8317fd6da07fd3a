package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"coinpulse/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	maxRetries  = 10
	readTimeout = 60 * time.Second
)

// PriceSink receives live price observations.
type PriceSink interface {
	Set(coinID string, price decimal.Decimal)
}

// SymbolResolver maps a ticker symbol (e.g. "btc") to a coin id.
type SymbolResolver interface {
	IDForSymbol(symbol string) (string, bool)
}

// miniTicker is one entry of the Binance !miniTicker@arr stream.
type miniTicker struct {
	Event  string `json:"e"` // 24hrMiniTicker
	Symbol string `json:"s"` // BTCUSDT
	Close  string `json:"c"`
}

// Worker maintains the exchange WebSocket connection and pushes every
// tick for a quote-denominated pair into the price cache. It is a warm
// path only: nothing depends on it being connected, the REST feed stays
// authoritative.
type Worker struct {
	wsURL    string
	quote    string
	sink     PriceSink
	resolver SymbolResolver
	metrics  *infra.Metrics
	logger   *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a ticker stream worker. quote is the quote currency
// suffix the stream's pairs are filtered on, e.g. "USDT".
func NewWorker(wsURL, quote string, sink PriceSink, resolver SymbolResolver, metrics *infra.Metrics) *Worker {
	return &Worker{
		wsURL:    wsURL,
		quote:    strings.ToUpper(quote),
		sink:     sink,
		resolver: resolver,
		metrics:  metrics,
		logger:   slog.Default().With("module", "stream"),
	}
}

// Connect starts the connection loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("stream connection failed",
				slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}
	w.metrics.SetStreamConnected(true)

	w.logger.Info("stream connected", slog.String("url", w.wsURL))
	return nil
}

// subscribe requests the all-pairs mini ticker stream.
func (w *Worker) subscribe() error {
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{"!miniTicker@arr"},
		"id":     time.Now().UnixNano(),
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Capture the conn under the lock: a concurrent Disconnect can
		// nil out w.conn while this goroutine is between reads.
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

// handleMessage applies one miniTicker array frame to the price cache.
// Pairs in other quote currencies and symbols that do not resolve to a
// tracked coin are dropped silently.
func (w *Worker) handleMessage(msg []byte) {
	var ticks []miniTicker
	if json.Unmarshal(msg, &ticks) != nil {
		return
	}

	for _, t := range ticks {
		if t.Event != "24hrMiniTicker" || !strings.HasSuffix(t.Symbol, w.quote) {
			continue
		}
		symbol := strings.TrimSuffix(t.Symbol, w.quote)
		coinID, ok := w.resolver.IDForSymbol(symbol)
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(t.Close)
		if err != nil || !price.IsPositive() {
			continue
		}
		w.sink.Set(coinID, price)
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
	w.metrics.SetStreamConnected(false)
}

// Connected reports whether the socket is currently up.
func (w *Worker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Disconnect stops the worker and waits for the loops to exit.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
