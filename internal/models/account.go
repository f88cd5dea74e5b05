package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a read-only snapshot of the brokerage account.
// It is fetched fresh at the start of a decision step and never cached.
type Account struct {
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	Equity         decimal.Decimal `json:"equity"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
}

// Position represents a single held instrument, mirrored read-only from
// the brokerage during a cycle. Qty may be fractional.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	MarketValue   decimal.Decimal `json:"market_value"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// Clock represents the market clock exposed by the brokerage.
type Clock struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}
