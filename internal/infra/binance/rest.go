package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"depthwatch/internal/domain"
	"depthwatch/internal/infra"
)

// Client talks to the Binance REST API. Only the depth endpoint is used;
// it supplies the full snapshots the sync controllers reconcile against.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *infra.Metrics
}

func NewClient(cfg *infra.Config, logger *slog.Logger, metrics *infra.Metrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.API.Binance.RestURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger:  logger.With(slog.String("module", "binance_rest")),
		metrics: metrics,
	}
}

// FetchDepth retrieves a full order book snapshot for symbol. It satisfies
// the sync controller's snapshot fetcher contract.
func (c *Client) FetchDepth(ctx context.Context, symbol string, limit int) (*domain.SnapshotEvent, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/api/v3/depth?" + q.Encode()

	c.metrics.RecordSnapshotFetch()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewFatalNetworkError("depth request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordSnapshotError()
		return nil, domain.NewNetworkError("depth request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordSnapshotError()
		return nil, domain.NewNetworkError("depth read", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordSnapshotError()
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			err = fmt.Errorf("depth status %d: %s (code %d)", resp.StatusCode, apiErr.Msg, apiErr.Code)
		} else {
			err = fmt.Errorf("depth status %d", resp.StatusCode)
		}
		// 4xx will not heal on retry; 5xx and 429 might.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, domain.NewFatalNetworkError("depth request", err)
		}
		return nil, domain.NewNetworkError("depth request", err)
	}

	var raw depthResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		c.metrics.RecordSnapshotError()
		return nil, &domain.MalformedEventError{Kind: "depth snapshot", Err: err}
	}

	bids, err := parseLevels(raw.Bids)
	if err != nil {
		c.metrics.RecordSnapshotError()
		return nil, &domain.MalformedEventError{Kind: "depth snapshot bids", Err: err}
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		c.metrics.RecordSnapshotError()
		return nil, &domain.MalformedEventError{Kind: "depth snapshot asks", Err: err}
	}

	c.logger.Debug("depth snapshot fetched",
		slog.String("symbol", symbol),
		slog.Uint64("last_update_id", raw.LastUpdateID),
		slog.Int("bids", len(bids)),
		slog.Int("asks", len(asks)))

	return &domain.SnapshotEvent{
		Symbol:       strings.ToUpper(symbol),
		LastUpdateID: raw.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}
