package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// Gateway wraps account, position, price-history, clock, and order
// operations against the brokerage. It is the leaf dependency of every
// strategy engine.
//
// SubmitOrder is NOT idempotent: a caller that retries must reconcile
// against ListOrders / GetPositions first rather than blindly resubmitting.
type Gateway interface {
	GetAccount(ctx context.Context) (*models.Account, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetPriceHistory(ctx context.Context, symbols []string, timeframe string, start, end time.Time) (map[string][]models.PriceBar, error)
	GetClock(ctx context.Context) (*models.Clock, error)
	ListOrders(ctx context.Context, status string) ([]models.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
	SubmitOrder(ctx context.Context, order models.Order) (*models.OrderStatus, error)
}

// RejectionError is an order-level business rejection by the venue, such as
// a non-fractionable instrument or insufficient buying power. Strategies
// handle these locally (fallback or skip-and-log); they are never retried
// as transient failures.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("broker rejected order (%d): %s", e.Code, e.Message)
}

// NotFractionable reports whether the rejection was caused by the
// instrument not supporting fractional quantities.
func (e *RejectionError) NotFractionable() bool {
	return strings.Contains(strings.ToLower(e.Message), "not fractionable")
}

// InsufficientBuyingPower reports whether the rejection was caused by
// insufficient buying power.
func (e *RejectionError) InsufficientBuyingPower() bool {
	return strings.Contains(strings.ToLower(e.Message), "insufficient")
}

// UnavailableError is a transport or auth failure against the brokerage.
// These are transient from the engine's perspective and handled by the
// control loop's bounded retry policy.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("broker unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
