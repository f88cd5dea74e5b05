package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar represents a single OHLCV bar for a symbol. Bars are used only
// to derive signals; the core never persists them.
type PriceBar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// Lookback selects the historical window a signal is computed over.
type Lookback string

const (
	LookbackDay   Lookback = "day"
	LookbackWeek  Lookback = "week"
	LookbackMonth Lookback = "month"
)

// Start returns the beginning of the lookback window relative to now.
func (l Lookback) Start(now time.Time) time.Time {
	switch l {
	case LookbackDay:
		return now.AddDate(0, 0, -1)
	case LookbackWeek:
		return now.AddDate(0, 0, -7)
	default:
		return now.AddDate(0, -1, 0)
	}
}

// Valid reports whether the lookback is one of the supported windows.
func (l Lookback) Valid() bool {
	switch l {
	case LookbackDay, LookbackWeek, LookbackMonth:
		return true
	}
	return false
}
