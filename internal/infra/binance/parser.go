package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/internal/domain"
)

// ParseStreamMessage decodes one combined-stream frame into a domain
// event. Exactly one of the returns is non-nil on success; both are nil
// for payloads this engine does not consume (subscribe acks, other
// streams). A frame that carries a recognized event type but fails to
// decode returns a MalformedEventError.
func ParseStreamMessage(data []byte) (*domain.DiffEvent, *domain.TradeEvent, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, &domain.MalformedEventError{Kind: "stream", Err: err}
	}
	if env.Stream == "" || len(env.Data) == 0 {
		// Subscribe acks and error frames have no stream field.
		return nil, nil, nil
	}

	var probe eventProbe
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		return nil, nil, &domain.MalformedEventError{Kind: "stream", Err: err}
	}

	switch probe.EventType {
	case eventTypeDepthUpdate:
		diff, err := parseDepthUpdate(env.Data)
		return diff, nil, err
	case eventTypeTrade:
		trade, err := parseTrade(env.Data)
		return nil, trade, err
	default:
		return nil, nil, nil
	}
}

func parseDepthUpdate(data []byte) (*domain.DiffEvent, error) {
	var msg depthUpdateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &domain.MalformedEventError{Kind: "depth", Err: err}
	}
	if msg.Symbol == "" {
		return nil, &domain.MalformedEventError{Kind: "depth", Err: fmt.Errorf("missing symbol")}
	}

	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return nil, &domain.MalformedEventError{Kind: "depth", Err: err}
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return nil, &domain.MalformedEventError{Kind: "depth", Err: err}
	}

	return &domain.DiffEvent{
		Symbol:        strings.ToUpper(msg.Symbol),
		FirstUpdateID: msg.FirstUpdateID,
		FinalUpdateID: msg.FinalUpdateID,
		BidChanges:    bids,
		AskChanges:    asks,
		EventTime:     time.UnixMilli(msg.EventTimeMs),
	}, nil
}

func parseTrade(data []byte) (*domain.TradeEvent, error) {
	var msg tradeStreamMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &domain.MalformedEventError{Kind: "trade", Err: err}
	}
	if msg.Symbol == "" {
		return nil, &domain.MalformedEventError{Kind: "trade", Err: fmt.Errorf("missing symbol")}
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return nil, &domain.MalformedEventError{Kind: "trade", Err: fmt.Errorf("price %q: %w", msg.Price, err)}
	}
	qty, err := decimal.NewFromString(msg.Quantity)
	if err != nil {
		return nil, &domain.MalformedEventError{Kind: "trade", Err: fmt.Errorf("quantity %q: %w", msg.Quantity, err)}
	}

	return &domain.TradeEvent{
		Symbol:       strings.ToUpper(msg.Symbol),
		TradeID:      msg.TradeID,
		Price:        price,
		Quantity:     qty,
		BuyerIsMaker: msg.BuyerIsMaker,
		TradeTime:    time.UnixMilli(msg.TradeTimeMs),
	}, nil
}

// parseLevels decodes the wire [price, quantity] string pairs. Zero
// quantities are preserved: downstream they mean "delete this level".
func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", pair[1], err)
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}
