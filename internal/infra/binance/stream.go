package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"depthwatch/internal/domain"
	"depthwatch/internal/infra"
)

// EventSink receives decoded events from the stream worker. The market
// registry satisfies this.
type EventSink interface {
	RouteDiff(*domain.DiffEvent)
	RouteTrade(*domain.TradeEvent)
}

// StreamWorker maintains the combined-stream WebSocket connection:
// connect, subscribe, read, decode, hand off to the sink. It reconnects
// with backoff and resubscribes every known stream after a drop.
type StreamWorker struct {
	wsURL   string
	speedMS int
	sink    EventSink
	logger  *slog.Logger
	metrics *infra.Metrics

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	// streams we should be subscribed to, by stream name; survives
	// reconnects.
	subs   map[string]struct{}
	subsMu sync.Mutex

	nextID atomic.Int64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamWorker creates a worker; Connect starts it.
func NewStreamWorker(cfg *infra.Config, sink EventSink, logger *slog.Logger, metrics *infra.Metrics) *StreamWorker {
	return &StreamWorker{
		wsURL:   cfg.API.Binance.WSURL,
		speedMS: cfg.API.Binance.UpdateSpeedMS,
		sink:    sink,
		logger:  logger.With(slog.String("module", "binance_stream")),
		metrics: metrics,
		subs:    make(map[string]struct{}),
	}
}

// Connect launches the connection loop. It returns immediately; the loop
// keeps dialing with backoff until ctx is cancelled.
func (w *StreamWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *StreamWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // keep retrying forever; the counter only shapes the backoff
			}
			delay := infra.CalculateBackoff(retryCount)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
			w.metrics.DecrementConnections()
		}
	}
}

func (w *StreamWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.resubscribeAll(); err != nil {
		w.closeConnection()
		return err
	}

	go w.pingLoop(ctx)
	w.metrics.IncrementConnections()
	w.logger.Info("connected", slog.String("url", w.wsURL))
	return nil
}

// Subscribe adds the depth and trade streams for symbol. The subscription
// is remembered and replayed after every reconnect.
func (w *StreamWorker) Subscribe(symbol string) error {
	names := []string{
		DepthStreamName(symbol, w.speedMS),
		TradeStreamName(symbol),
	}

	w.subsMu.Lock()
	for _, name := range names {
		w.subs[name] = struct{}{}
	}
	w.subsMu.Unlock()

	return w.sendStreamRequest("SUBSCRIBE", names)
}

// Unsubscribe removes the streams for symbol.
func (w *StreamWorker) Unsubscribe(symbol string) error {
	names := []string{
		DepthStreamName(symbol, w.speedMS),
		TradeStreamName(symbol),
	}

	w.subsMu.Lock()
	for _, name := range names {
		delete(w.subs, name)
	}
	w.subsMu.Unlock()

	return w.sendStreamRequest("UNSUBSCRIBE", names)
}

func (w *StreamWorker) resubscribeAll() error {
	w.subsMu.Lock()
	names := make([]string, 0, len(w.subs))
	for name := range w.subs {
		names = append(names, name)
	}
	w.subsMu.Unlock()

	if len(names) == 0 {
		return nil
	}
	return w.sendStreamRequest("SUBSCRIBE", names)
}

func (w *StreamWorker) sendStreamRequest(method string, names []string) error {
	req := subscribeRequest{
		Method: method,
		Params: names,
		ID:     w.nextID.Add(1),
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := w.threadSafeWrite(websocket.TextMessage, b); err != nil {
		// Not connected yet: the streams stay in subs and go out with the
		// next resubscribeAll.
		w.logger.Debug("stream request deferred", slog.String("method", method), slog.Any("error", err))
		return nil
	}
	w.logger.Info("stream request sent", slog.String("method", method), slog.Int("streams", len(names)))
	return nil
}

func (w *StreamWorker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.logger.Warn("ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (w *StreamWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *StreamWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.logger.Warn("read failed, reconnecting", slog.Any("error", err))
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *StreamWorker) handleMessage(msg []byte) {
	diff, trade, err := ParseStreamMessage(msg)
	if err != nil {
		w.metrics.RecordMalformedEvent()
		w.logger.Warn("dropping malformed event", slog.Any("error", err))
		return
	}
	switch {
	case diff != nil:
		w.sink.RouteDiff(diff)
	case trade != nil:
		w.sink.RouteTrade(trade)
	}
}

func (w *StreamWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// Disconnect stops the worker and closes the connection.
func (w *StreamWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
