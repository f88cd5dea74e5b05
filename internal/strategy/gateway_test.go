package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/broker"
	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// fakeGateway is an in-memory brokerage for engine tests. Every order
// submission and cancellation is appended to calls so tests can assert
// ordering, not just totals.
type fakeGateway struct {
	mu sync.Mutex

	account   models.Account
	positions []models.Position
	prices    map[string]decimal.Decimal
	history   map[string][]models.PriceBar
	clock     models.Clock
	open      []models.OrderStatus

	// fills, when set for a symbol, is reported as the filled average
	// price on submitted orders.
	fills map[string]decimal.Decimal

	// submitErr, when set for a symbol, is returned by SubmitOrder.
	submitErr map[string]error
	// submitOnce drops the error after its first return, for fallback paths.
	submitOnce map[string]bool
	priceErr   map[string]error
	historyErr error

	calls  []string
	orders []models.Order
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		prices:     make(map[string]decimal.Decimal),
		fills:      make(map[string]decimal.Decimal),
		history:    make(map[string][]models.PriceBar),
		submitErr:  make(map[string]error),
		submitOnce: make(map[string]bool),
		priceErr:   make(map[string]error),
		clock:      models.Clock{IsOpen: true},
	}
}

func (f *fakeGateway) GetAccount(ctx context.Context) (*models.Account, error) {
	account := f.account
	return &account, nil
}

func (f *fakeGateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	return append([]models.Position(nil), f.positions...), nil
}

func (f *fakeGateway) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	for _, pos := range f.positions {
		if pos.Symbol == symbol {
			p := pos
			return &p, nil
		}
	}
	return nil, &broker.RejectionError{Code: 40410000, Message: "position does not exist"}
}

func (f *fakeGateway) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := f.priceErr[symbol]; err != nil {
		return decimal.Zero, err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, &broker.RejectionError{Code: 42210000, Message: "no quote"}
	}
	return price, nil
}

func (f *fakeGateway) GetPriceHistory(ctx context.Context, symbols []string, timeframe string, start, end time.Time) (map[string][]models.PriceBar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("history:%d", len(symbols)))
	f.mu.Unlock()

	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make(map[string][]models.PriceBar)
	for _, symbol := range symbols {
		if bars, ok := f.history[symbol]; ok {
			out[symbol] = bars
		}
	}
	return out, nil
}

func (f *fakeGateway) GetClock(ctx context.Context) (*models.Clock, error) {
	clock := f.clock
	return &clock, nil
}

func (f *fakeGateway) ListOrders(ctx context.Context, status string) ([]models.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list_orders")
	open := append([]models.OrderStatus(nil), f.open...)
	// Orders clear after one observation, like fills landing between polls.
	f.open = nil
	return open, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel:"+orderID)
	return nil
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, order models.Order) (*models.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.submitErr[order.Symbol]; err != nil {
		if f.submitOnce[order.Symbol] {
			delete(f.submitErr, order.Symbol)
		}
		f.calls = append(f.calls, fmt.Sprintf("reject:%s:%s", order.Side, order.Symbol))
		return nil, err
	}

	f.calls = append(f.calls, fmt.Sprintf("submit:%s:%s", order.Side, order.Symbol))
	f.orders = append(f.orders, order)

	status := &models.OrderStatus{
		ID:            fmt.Sprintf("order-%d", len(f.orders)),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           order.Qty,
		Notional:      order.Notional,
		Status:        "accepted",
		SubmittedAt:   time.Now(),
	}
	if fill, ok := f.fills[order.Symbol]; ok {
		status.FilledAvgPrice = &fill
		status.Status = "filled"
	}
	return status, nil
}

func (f *fakeGateway) submitted() []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Order(nil), f.orders...)
}

func (f *fakeGateway) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func bar(close string, at time.Time) models.PriceBar {
	return models.PriceBar{Timestamp: at, Close: decimal.RequireFromString(close)}
}

func dollars(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func rejection(code int, msg string) *broker.RejectionError {
	return &broker.RejectionError{Code: code, Message: msg}
}
