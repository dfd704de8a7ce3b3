// Package binance implements the transport boundary: a combined-stream
// WebSocket worker for diff depth updates and trade prints, and a REST
// client for full depth snapshots. Everything leaving this package is an
// already-decoded domain event.
package binance

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	maxRetries   = 10
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// subscribeRequest is the frame for SUBSCRIBE/UNSUBSCRIBE on the combined
// stream endpoint.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// streamEnvelope wraps every combined-stream payload.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// eventProbe peeks at the event-type tag before full decoding.
type eventProbe struct {
	EventType string `json:"e"`
}

const (
	eventTypeDepthUpdate = "depthUpdate"
	eventTypeTrade       = "trade"
)

// depthUpdateMsg is the diff depth stream payload.
type depthUpdateMsg struct {
	EventType     string      `json:"e"`
	EventTimeMs   int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID uint64      `json:"U"`
	FinalUpdateID uint64      `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// tradeStreamMsg is the raw trade stream payload.
type tradeStreamMsg struct {
	EventType    string `json:"e"`
	EventTimeMs  int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTimeMs  int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// depthResponse is the REST /api/v3/depth body.
type depthResponse struct {
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// apiError is the REST error body.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// DepthStreamName builds the diff depth stream name for symbol, e.g.
// "btcusdt@depth@100ms". Valid speeds are 100 and 1000 ms.
func DepthStreamName(symbol string, speedMS int) string {
	name := strings.ToLower(symbol) + "@depth"
	if speedMS == 100 {
		name += "@100ms"
	}
	return name
}

// TradeStreamName builds the raw trade stream name for symbol.
func TradeStreamName(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}
