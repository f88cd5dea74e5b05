package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
	Stop   OrderType = "stop"
)

// TimeInForce controls how long an order remains active.
type TimeInForce string

const (
	Day TimeInForce = "day"
	GTC TimeInForce = "gtc"
)

// Order is a request to trade a single instrument. Exactly one of Qty or
// Notional must be set: Qty sizes the order in shares, Notional in dollars.
// The core never retains order identity beyond the submission call;
// reconciliation relies on the brokerage's own order list.
type Order struct {
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	Type          OrderType        `json:"type"`
	TimeInForce   TimeInForce      `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// OrderStatus is the brokerage's view of a submitted order.
type OrderStatus struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Qty            *decimal.Decimal `json:"qty,omitempty"`
	Notional       *decimal.Decimal `json:"notional,omitempty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price,omitempty"`
	Status         string           `json:"status"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
}

// MarketOrderQty builds a whole-share market order.
func MarketOrderQty(symbol string, side OrderSide, qty decimal.Decimal) Order {
	return Order{
		Symbol:      symbol,
		Side:        side,
		Qty:         &qty,
		Type:        Market,
		TimeInForce: Day,
	}
}

// MarketOrderNotional builds a dollar-denominated market order.
func MarketOrderNotional(symbol string, side OrderSide, notional decimal.Decimal) Order {
	return Order{
		Symbol:      symbol,
		Side:        side,
		Notional:    &notional,
		Type:        Market,
		TimeInForce: Day,
	}
}
