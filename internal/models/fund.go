package models

import "github.com/shopspring/decimal"

// TradeDirection is the side of a disclosed fund trade.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "Buy"
	DirectionSell TradeDirection = "Sell"
)

// FundTrade is a single trade from a fund's public disclosure snapshot.
// Treated as an immutable input for one copy-trading cycle.
type FundTrade struct {
	Fund       string          `json:"fund"`
	Date       string          `json:"date"`
	Ticker     string          `json:"ticker"`
	Company    string          `json:"company"`
	Direction  TradeDirection  `json:"direction"`
	CUSIP      string          `json:"cusip"`
	Shares     decimal.Decimal `json:"shares"`
	ETFPercent float64         `json:"etf_percent"`
}

// FundHolding is a single position from a fund's disclosed holdings.
type FundHolding struct {
	Fund        string          `json:"fund"`
	Date        string          `json:"date"`
	Ticker      string          `json:"ticker"`
	Company     string          `json:"company"`
	CUSIP       string          `json:"cusip"`
	Shares      decimal.Decimal `json:"shares"`
	MarketValue decimal.Decimal `json:"market_value"`
	SharePrice  decimal.Decimal `json:"share_price"`
	Weight      float64         `json:"weight"`
	WeightRank  int             `json:"weight_rank"`
}
