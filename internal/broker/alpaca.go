package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/config"
	"github.com/CasualCodersProjects/autostonks/internal/models"
)

const barPageLimit = 10000

// AlpacaClient implements Gateway against an Alpaca-compatible REST API.
// Trading calls go to the trading base URL, bar/price calls to the market
// data base URL; both are authenticated with key/secret headers.
type AlpacaClient struct {
	httpClient *http.Client
	tradingURL string
	dataURL    string
	apiKey     string
	apiSecret  string
	logger     *logrus.Logger
}

// NewAlpacaClient creates a new brokerage client from configuration.
func NewAlpacaClient(cfg *config.AlpacaConfig, logger *logrus.Logger) *AlpacaClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &AlpacaClient{
		httpClient: &http.Client{Timeout: timeout},
		tradingURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		dataURL:    strings.TrimSuffix(cfg.DataURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		logger:     logger,
	}
}

// GetAccount fetches the current account snapshot.
func (c *AlpacaClient) GetAccount(ctx context.Context) (*models.Account, error) {
	var account models.Account
	if err := c.doRequest(ctx, http.MethodGet, c.tradingURL+"/v2/account", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetPositions fetches all currently held positions.
func (c *AlpacaClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	if err := c.doRequest(ctx, http.MethodGet, c.tradingURL+"/v2/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetPosition fetches the position for a single symbol. A symbol that is
// not held surfaces as a rejection with a "position does not exist" body.
func (c *AlpacaClient) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	var position models.Position
	path := fmt.Sprintf("%s/v2/positions/%s", c.tradingURL, url.PathEscape(symbol))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &position); err != nil {
		return nil, err
	}
	return &position, nil
}

type latestBarResponse struct {
	Symbol string `json:"symbol"`
	Bar    rawBar `json:"bar"`
}

// GetLatestPrice returns the close of the most recent bar for a symbol.
func (c *AlpacaClient) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp latestBarResponse
	path := fmt.Sprintf("%s/v2/stocks/%s/bars/latest", c.dataURL, url.PathEscape(symbol))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Bar.Close, nil
}

type rawBar struct {
	Timestamp time.Time       `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    int64           `json:"v"`
}

type barsResponse struct {
	Bars          map[string][]rawBar `json:"bars"`
	NextPageToken *string             `json:"next_page_token"`
}

// GetPriceHistory fetches OHLCV bars for a set of symbols over a window,
// following the venue's page-token pagination until exhausted. Bars are
// returned grouped by symbol; ordering within a page is preserved as sent
// by the venue and callers sort before use.
func (c *AlpacaClient) GetPriceHistory(ctx context.Context, symbols []string, timeframe string, start, end time.Time) (map[string][]models.PriceBar, error) {
	out := make(map[string][]models.PriceBar)
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("symbols", strings.Join(symbols, ","))
		params.Set("timeframe", timeframe)
		params.Set("start", start.UTC().Format(time.RFC3339))
		params.Set("end", end.UTC().Format(time.RFC3339))
		params.Set("limit", fmt.Sprintf("%d", barPageLimit))
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}

		var resp barsResponse
		path := c.dataURL + "/v2/stocks/bars?" + params.Encode()
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}

		for symbol, bars := range resp.Bars {
			for _, b := range bars {
				out[symbol] = append(out[symbol], models.PriceBar{
					Symbol:    symbol,
					Timestamp: b.Timestamp,
					Open:      b.Open,
					High:      b.High,
					Low:       b.Low,
					Close:     b.Close,
					Volume:    b.Volume,
				})
			}
		}

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = *resp.NextPageToken
	}
}

// GetClock fetches the market clock.
func (c *AlpacaClient) GetClock(ctx context.Context) (*models.Clock, error) {
	var clock models.Clock
	if err := c.doRequest(ctx, http.MethodGet, c.tradingURL+"/v2/clock", nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

// ListOrders lists orders filtered by status ("open", "closed", "all").
func (c *AlpacaClient) ListOrders(ctx context.Context, status string) ([]models.OrderStatus, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	params.Set("limit", "500")

	var orders []models.OrderStatus
	path := c.tradingURL + "/v2/orders?" + params.Encode()
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrder cancels a single open order by ID.
func (c *AlpacaClient) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("%s/v2/orders/%s", c.tradingURL, url.PathEscape(orderID))
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// SubmitOrder submits an order to the venue. Venue declines surface as
// *RejectionError, transport/auth failures as *UnavailableError.
func (c *AlpacaClient) SubmitOrder(ctx context.Context, order models.Order) (*models.OrderStatus, error) {
	var status models.OrderStatus
	if err := c.doRequest(ctx, http.MethodPost, c.tradingURL+"/v2/orders", order, &status); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"symbol": order.Symbol,
		"side":   order.Side,
		"type":   order.Type,
	}).Debug("Order submitted")

	return &status, nil
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// doRequest is the shared HTTP helper: marshal, send, map status codes to
// the typed error model, unmarshal.
func (c *AlpacaClient) doRequest(ctx context.Context, method, rawURL string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Op: method + " " + rawURL, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Error closing response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UnavailableError{Op: method + " " + rawURL, Err: err}
	}

	switch {
	case resp.StatusCode < 400:
		// fall through to decode
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusForbidden,
		// 404 is the venue's answer for a position that is not held.
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnprocessableEntity:
		var eb errorBody
		if err := json.Unmarshal(respBody, &eb); err != nil || eb.Message == "" {
			eb = errorBody{Code: resp.StatusCode, Message: string(respBody)}
		}
		return &RejectionError{Code: eb.Code, Message: eb.Message}
	default:
		// 401, 429, 5xx: transient or auth trouble, retried upstream.
		return &UnavailableError{
			Op:  method + " " + rawURL,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// SortBars orders bars chronologically and drops duplicate timestamps,
// keeping the first occurrence. Signal math depends on this ordering.
func SortBars(bars []models.PriceBar) []models.PriceBar {
	sorted := make([]models.PriceBar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	deduped := sorted[:0]
	for _, b := range sorted {
		if len(deduped) > 0 && deduped[len(deduped)-1].Timestamp.Equal(b.Timestamp) {
			continue
		}
		deduped = append(deduped, b)
	}
	return deduped
}
