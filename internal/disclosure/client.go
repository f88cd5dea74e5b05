package disclosure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/config"
	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// Client fetches a tracked fund's trade and holdings disclosures from an
// arkfunds-style API. Responses are immutable inputs for one trading cycle.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

// TradesResponse is the wire shape of a fund's disclosed trades.
type TradesResponse struct {
	Symbol   string             `json:"symbol"`
	DateFrom string             `json:"date_from"`
	DateTo   string             `json:"date_to"`
	Trades   []models.FundTrade `json:"trades"`
}

// HoldingsResponse is the wire shape of a fund's disclosed holdings.
type HoldingsResponse struct {
	Symbol   string               `json:"symbol"`
	Date     string               `json:"date"`
	Holdings []models.FundHolding `json:"holdings"`
}

// NewClient creates a disclosure client from configuration.
func NewClient(cfg *config.DisclosureConfig, logger *logrus.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     logger,
	}
}

// GetFundTrades fetches disclosed trades for a fund. dateFrom/dateTo are
// YYYY-MM-DD; empty bounds default to yesterday and today, so an unbounded
// call covers exactly the latest disclosed day. limit <= 0 means the API
// default.
func (c *Client) GetFundTrades(ctx context.Context, fund, dateFrom, dateTo string, limit int) (*TradesResponse, error) {
	var resp TradesResponse
	if err := c.get(ctx, "/etf/trades", fund, dateFrom, dateTo, limit, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetFundHoldings fetches disclosed holdings for a fund.
func (c *Client) GetFundHoldings(ctx context.Context, fund, dateFrom, dateTo string, limit int) (*HoldingsResponse, error) {
	var resp HoldingsResponse
	if err := c.get(ctx, "/etf/holdings", fund, dateFrom, dateTo, limit, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AllFundTickers merges the holdings of several funds into one sorted,
// deduplicated ticker list, dropping tickers that contain punctuation or
// digits (units, warrants, foreign listings). Used as the default
// mean-reversion universe when no symbols are configured.
func (c *Client) AllFundTickers(ctx context.Context, funds []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, fund := range funds {
		resp, err := c.GetFundHoldings(ctx, fund, "", "", 500)
		if err != nil {
			return nil, fmt.Errorf("holdings for %s: %w", fund, err)
		}
		for _, holding := range resp.Holdings {
			if holding.Ticker == "" || !plainTicker(holding.Ticker) {
				continue
			}
			seen[holding.Ticker] = struct{}{}
		}
	}

	tickers := make([]string, 0, len(seen))
	for t := range seen {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers, nil
}

func plainTicker(ticker string) bool {
	for _, r := range ticker {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

const dateLayout = "2006-01-02"

func (c *Client) get(ctx context.Context, path, fund, dateFrom, dateTo string, limit int, result interface{}) error {
	if dateFrom == "" {
		dateFrom = time.Now().UTC().AddDate(0, 0, -1).Format(dateLayout)
	}
	if dateTo == "" {
		dateTo = time.Now().UTC().Format(dateLayout)
	}

	params := url.Values{}
	params.Set("symbol", fund)
	params.Set("date_from", dateFrom)
	params.Set("date_to", dateTo)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	rawURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Error closing response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("disclosure API error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
