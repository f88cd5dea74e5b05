package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/broker"
	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// ThresholdParams are the knobs of the threshold exit engine.
type ThresholdParams struct {
	Symbols []string
	Qty     decimal.Decimal
	// MinGain is the dollar gain that triggers a sell.
	MinGain decimal.Decimal
	// MaxLoss is the dollar loss that triggers a sell; a negative bound.
	MaxLoss      decimal.Decimal
	PollInterval time.Duration
}

// FillLedger persists entry fills and serves the last one back. The
// ledger repository implements it alongside OrderRecorder; the engine
// uses it when its recorder supports fills.
type FillLedger interface {
	RecordFill(ctx context.Context, strategy, symbol string, qty, price decimal.Decimal) error
	BuyPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ThresholdEngine buys each configured symbol once at market, then polls
// prices and exits each position independently on a gain or loss
// threshold. It terminates naturally when all positions are closed.
type ThresholdEngine struct {
	gw       broker.Gateway
	recorder OrderRecorder
	notifier Notifier
	params   ThresholdParams
	logger   *logrus.Logger
}

type thresholdHolding struct {
	buyPrice decimal.Decimal
	open     bool
}

// NewThresholdEngine creates the engine.
func NewThresholdEngine(gw broker.Gateway, params ThresholdParams, logger *logrus.Logger) *ThresholdEngine {
	return &ThresholdEngine{
		gw:     gw,
		params: params,
		logger: logger,
	}
}

// SetRecorder attaches an order recorder.
func (e *ThresholdEngine) SetRecorder(r OrderRecorder) { e.recorder = r }

// SetNotifier attaches a trade notifier.
func (e *ThresholdEngine) SetNotifier(n Notifier) { e.notifier = n }

func (e *ThresholdEngine) Name() string { return "threshold" }

// RunCycle clears stale orders, enters every configured symbol, then polls
// until each position has exited on its gain or loss threshold. Returns
// ErrDone once flat.
func (e *ThresholdEngine) RunCycle(ctx context.Context) error {
	if err := e.clearOpenOrders(ctx); err != nil {
		return fmt.Errorf("clearing open orders: %w", err)
	}

	holdings, err := e.enterPositions(ctx)
	if err != nil {
		return fmt.Errorf("entering positions: %w", err)
	}

	for openCount(holdings) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.params.PollInterval):
		}

		for symbol, holding := range holdings {
			if !holding.open {
				continue
			}
			if err := e.checkExit(ctx, symbol, holding); err != nil {
				return err
			}
		}
	}

	e.logger.Info("All positions closed")
	return ErrDone
}

func (e *ThresholdEngine) clearOpenOrders(ctx context.Context) error {
	orders, err := e.gw.ListOrders(ctx, "open")
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := e.gw.CancelOrder(ctx, order.ID); err != nil {
			return err
		}
	}
	return nil
}

// enterPositions buys each symbol at market, unless a position from an
// earlier run is still held, and records the entry price: the venue's
// reported fill price when available, the pre-buy quote otherwise. The
// price is persisted to the fill ledger when the recorder supports it.
func (e *ThresholdEngine) enterPositions(ctx context.Context) (map[string]*thresholdHolding, error) {
	holdings := make(map[string]*thresholdHolding, len(e.params.Symbols))

	for _, symbol := range e.params.Symbols {
		holding, err := e.resumeHolding(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if holding != nil {
			holdings[symbol] = holding
			continue
		}

		price, err := e.gw.GetLatestPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}

		order := models.MarketOrderQty(symbol, models.Buy, e.params.Qty)
		order.ClientOrderID = uuid.NewString()

		status, err := e.gw.SubmitOrder(ctx, order)
		if err != nil {
			var rejection *broker.RejectionError
			if errors.As(err, &rejection) {
				e.logger.WithFields(logrus.Fields{
					"symbol": symbol,
					"reason": rejection.Message,
				}).Warn("Entry rejected, skipping symbol")
				continue
			}
			return nil, err
		}

		buyPrice := price
		if status.FilledAvgPrice != nil && status.FilledAvgPrice.IsPositive() {
			buyPrice = *status.FilledAvgPrice
		}

		e.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"price":  buyPrice,
		}).Info("Entered position")
		e.record(ctx, order, status)
		e.recordFill(ctx, symbol, buyPrice)

		holdings[symbol] = &thresholdHolding{buyPrice: buyPrice, open: true}
	}

	return holdings, nil
}

// resumeHolding picks up a position still on the books from an earlier
// run instead of doubling it. The entry price comes from the ledger's
// last recorded fill when available, the position's average entry price
// otherwise.
func (e *ThresholdEngine) resumeHolding(ctx context.Context, symbol string) (*thresholdHolding, error) {
	position, err := e.gw.GetPosition(ctx, symbol)
	if err != nil {
		var rejection *broker.RejectionError
		if errors.As(err, &rejection) {
			return nil, nil
		}
		return nil, err
	}
	if !position.Qty.IsPositive() {
		return nil, nil
	}

	buyPrice := position.AvgEntryPrice
	if ledger, ok := e.recorder.(FillLedger); ok {
		if recorded, err := ledger.BuyPrice(ctx, symbol); err == nil && recorded.IsPositive() {
			buyPrice = recorded
		}
	}

	e.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"price":  buyPrice,
	}).Info("Resuming held position")
	return &thresholdHolding{buyPrice: buyPrice, open: true}, nil
}

func (e *ThresholdEngine) recordFill(ctx context.Context, symbol string, price decimal.Decimal) {
	ledger, ok := e.recorder.(FillLedger)
	if !ok {
		return
	}
	if err := ledger.RecordFill(ctx, e.Name(), symbol, e.params.Qty, price); err != nil {
		e.logger.WithError(err).Warn("Failed to record fill")
	}
}

// checkExit sells the position when the unrealized dollar difference
// crosses the gain threshold upward or the loss threshold downward.
func (e *ThresholdEngine) checkExit(ctx context.Context, symbol string, holding *thresholdHolding) error {
	price, err := e.gw.GetLatestPrice(ctx, symbol)
	if err != nil {
		var unavailable *broker.UnavailableError
		if errors.As(err, &unavailable) {
			return err
		}
		e.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"error":  err.Error(),
		}).Warn("Price check failed")
		return nil
	}

	difference := price.Sub(holding.buyPrice).Mul(e.params.Qty)
	if difference.LessThanOrEqual(e.params.MinGain) && difference.GreaterThanOrEqual(e.params.MaxLoss) {
		return nil
	}

	order := models.MarketOrderQty(symbol, models.Sell, e.params.Qty)
	order.ClientOrderID = uuid.NewString()

	status, err := e.gw.SubmitOrder(ctx, order)
	if err != nil {
		var rejection *broker.RejectionError
		if errors.As(err, &rejection) {
			e.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"reason": rejection.Message,
			}).Warn("Exit rejected, will retry next poll")
			return nil
		}
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"symbol":     symbol,
		"difference": difference,
	}).Info("Exited position")
	e.record(ctx, order, status)
	holding.open = false
	return nil
}

func (e *ThresholdEngine) record(ctx context.Context, order models.Order, status *models.OrderStatus) {
	if e.recorder != nil {
		if err := e.recorder.RecordOrder(ctx, e.Name(), order, status); err != nil {
			e.logger.WithError(err).Warn("Failed to record order")
		}
	}
	if e.notifier != nil {
		e.notifier.TradePlaced(ctx, e.Name(), order)
	}
}

func openCount(holdings map[string]*thresholdHolding) int {
	n := 0
	for _, h := range holdings {
		if h.open {
			n++
		}
	}
	return n
}
