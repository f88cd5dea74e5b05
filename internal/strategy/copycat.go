package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/broker"
	"github.com/CasualCodersProjects/autostonks/internal/disclosure"
	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// FundDisclosures is the slice of the disclosure client the copycat engine
// needs.
type FundDisclosures interface {
	GetFundTrades(ctx context.Context, fund, dateFrom, dateTo string, limit int) (*disclosure.TradesResponse, error)
	GetFundHoldings(ctx context.Context, fund, dateFrom, dateTo string, limit int) (*disclosure.HoldingsResponse, error)
}

// CopyCatParams are the knobs of the copy-trading engine.
type CopyCatParams struct {
	// Fund is the tracked fund's symbol.
	Fund string
	// BudgetPercent of free cash (above MinBalance) spent per day.
	BudgetPercent decimal.Decimal
	// MinBalance is cash that is never deployed.
	MinBalance decimal.Decimal
}

// fractionalTolerance lets a zero-share fallback round up to one share
// when the price overshoots the notional amount by no more than 10%.
var fractionalTolerance = decimal.NewFromFloat(1.1)

// CopyCatEngine mirrors a tracked fund's previous day's buys and sells
// proportionally to a daily budget.
type CopyCatEngine struct {
	gw       broker.Gateway
	fund     FundDisclosures
	recorder OrderRecorder
	notifier Notifier
	params   CopyCatParams
	logger   *logrus.Logger
}

// NewCopyCatEngine creates the engine.
func NewCopyCatEngine(gw broker.Gateway, fund FundDisclosures, params CopyCatParams, logger *logrus.Logger) *CopyCatEngine {
	return &CopyCatEngine{
		gw:     gw,
		fund:   fund,
		params: params,
		logger: logger,
	}
}

// SetRecorder attaches an order recorder.
func (e *CopyCatEngine) SetRecorder(r OrderRecorder) { e.recorder = r }

// SetNotifier attaches a trade notifier.
func (e *CopyCatEngine) SetNotifier(n Notifier) { e.notifier = n }

func (e *CopyCatEngine) Name() string { return "copycat" }

// RunCycle mirrors yesterday's fund disclosure: disclosed buys are costed
// at the prior day's close and the daily budget is split proportionally to
// each symbol's share of total disclosed purchase dollars; disclosed sells
// liquidate the same fraction of our holding that the fund sold of its own.
func (e *CopyCatEngine) RunCycle(ctx context.Context) error {
	trades, err := e.fund.GetFundTrades(ctx, e.params.Fund, "", "", 500)
	if err != nil {
		return fmt.Errorf("fetching fund trades: %w", err)
	}
	holdings, err := e.fund.GetFundHoldings(ctx, e.params.Fund, "", "", 500)
	if err != nil {
		return fmt.Errorf("fetching fund holdings: %w", err)
	}

	buyShares, sellFractions := e.partitionTrades(trades.Trades, holdings.Holdings)
	if len(buyShares) == 0 && len(sellFractions) == 0 {
		e.logger.WithField("fund", e.params.Fund).Info("No disclosed trades to mirror")
		return nil
	}

	purchases, err := e.purchaseCosts(ctx, buyShares)
	if err != nil {
		return fmt.Errorf("costing disclosed buys: %w", err)
	}

	account, err := e.gw.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	dailyBudget := account.Cash.Sub(e.params.MinBalance).Mul(e.params.BudgetPercent)
	if !dailyBudget.IsPositive() {
		e.logger.WithFields(logrus.Fields{
			"cash":        account.Cash,
			"min_balance": e.params.MinBalance,
		}).Warn("No budget above minimum balance, skipping buys")
		dailyBudget = decimal.Zero
	}
	e.logger.WithField("budget", dailyBudget).Info("Daily budget computed")

	if dailyBudget.IsPositive() {
		if err := e.mirrorBuys(ctx, purchases, dailyBudget, account.BuyingPower); err != nil {
			return err
		}
	}

	return e.mirrorSells(ctx, sellFractions)
}

// partitionTrades splits the disclosure into accumulated buy shares per
// ticker and the fraction of the fund's holding sold per ticker. A sell
// without a disclosed holding, or one implying a fraction outside [0, 1],
// is inconsistent disclosure data and is skipped rather than guessed at.
func (e *CopyCatEngine) partitionTrades(trades []models.FundTrade, holdings []models.FundHolding) (map[string]decimal.Decimal, map[string]decimal.Decimal) {
	heldShares := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		heldShares[h.Ticker] = h.Shares
	}

	buyShares := make(map[string]decimal.Decimal)
	sellFractions := make(map[string]decimal.Decimal)

	for _, trade := range trades {
		switch trade.Direction {
		case models.DirectionBuy:
			buyShares[trade.Ticker] = buyShares[trade.Ticker].Add(trade.Shares)
		case models.DirectionSell:
			held, ok := heldShares[trade.Ticker]
			if !ok || !held.IsPositive() {
				e.logger.WithField("symbol", trade.Ticker).Warn("Disclosed sell without disclosed holding, skipping")
				continue
			}
			fraction := trade.Shares.Div(held)
			if fraction.IsNegative() || fraction.GreaterThan(decimal.NewFromInt(1)) {
				e.logger.WithFields(logrus.Fields{
					"symbol":   trade.Ticker,
					"fraction": fraction,
				}).Warn("Disclosed sell fraction out of range, skipping")
				continue
			}
			sellFractions[trade.Ticker] = fraction
		}
	}

	return buyShares, sellFractions
}

// purchaseCosts estimates each disclosed buy in dollars using the prior
// trading day's close, not the disclosure's own price field, which may be
// stale. Symbols without a recent daily bar are excluded.
func (e *CopyCatEngine) purchaseCosts(ctx context.Context, buyShares map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	if len(buyShares) == 0 {
		return nil, nil
	}

	symbols := sortedKeys(buyShares)
	now := time.Now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -7)

	bars, err := e.gw.GetPriceHistory(ctx, symbols, "1Day", start, end)
	if err != nil {
		return nil, err
	}

	costs := make(map[string]decimal.Decimal, len(buyShares))
	for _, symbol := range symbols {
		sorted := broker.SortBars(bars[symbol])
		if len(sorted) == 0 {
			e.logger.WithField("symbol", symbol).Warn("No prior close, excluding disclosed buy")
			continue
		}
		prevClose := sorted[len(sorted)-1].Close
		costs[symbol] = buyShares[symbol].Mul(prevClose)
	}

	return costs, nil
}

// mirrorBuys allocates the daily budget proportionally to each symbol's
// share of total disclosed purchase dollars and submits the buys, gated on
// remaining buying power.
func (e *CopyCatEngine) mirrorBuys(ctx context.Context, purchases map[string]decimal.Decimal, budget, buyingPower decimal.Decimal) error {
	if len(purchases) == 0 {
		return nil
	}

	total := decimal.Zero
	for _, cost := range purchases {
		total = total.Add(cost)
	}
	if !total.IsPositive() {
		return nil
	}

	remaining := buyingPower
	for _, symbol := range sortedKeys(purchases) {
		amount := budget.Mul(purchases[symbol].Div(total))
		if !amount.IsPositive() {
			continue
		}
		if remaining.LessThan(amount) {
			e.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"amount": amount,
			}).Warn("Insufficient buying power, skipping buy")
			continue
		}

		e.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"amount": amount,
		}).Info("Mirroring buy")
		if err := e.submitNotional(ctx, symbol, models.Buy, amount); err != nil {
			return err
		}
		remaining = remaining.Sub(amount)
	}

	return nil
}

// mirrorSells sells the disclosed fraction of each holding, skipping
// symbols we do not hold.
func (e *CopyCatEngine) mirrorSells(ctx context.Context, sellFractions map[string]decimal.Decimal) error {
	for _, symbol := range sortedKeys(sellFractions) {
		position, err := e.gw.GetPosition(ctx, symbol)
		if err != nil {
			var rejection *broker.RejectionError
			if errors.As(err, &rejection) {
				e.logger.WithField("symbol", symbol).Debug("Not holding disclosed sell, skipping")
				continue
			}
			return err
		}

		price, err := e.gw.GetLatestPrice(ctx, symbol)
		if err != nil {
			return err
		}

		heldValue := position.Qty.Mul(price)
		amount := heldValue.Mul(sellFractions[symbol])
		if !amount.IsPositive() || heldValue.LessThan(amount) {
			continue
		}

		e.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"amount": amount,
		}).Info("Mirroring sell")
		if err := e.submitNotional(ctx, symbol, models.Sell, amount); err != nil {
			return err
		}
	}

	return nil
}

// submitNotional submits a dollar-denominated market order, falling back
// to whole shares when the venue rejects the instrument as not
// fractionable: floor(amount / price) shares, or a single share when the
// floor is zero but the price overshoots the amount by under 10%. Any
// other rejection reason propagates.
func (e *CopyCatEngine) submitNotional(ctx context.Context, symbol string, side models.OrderSide, amount decimal.Decimal) error {
	order := models.MarketOrderNotional(symbol, side, amount)
	order.ClientOrderID = uuid.NewString()

	status, err := e.gw.SubmitOrder(ctx, order)
	if err == nil {
		e.record(ctx, order, status)
		return nil
	}

	var rejection *broker.RejectionError
	if !errors.As(err, &rejection) || !rejection.NotFractionable() {
		return err
	}

	price, err := e.gw.GetLatestPrice(ctx, symbol)
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		e.logger.WithField("symbol", symbol).Warn("No usable price for fallback, skipping")
		return nil
	}

	qty := amount.Div(price).Floor()
	if qty.IsZero() {
		if price.GreaterThan(amount.Mul(fractionalTolerance)) {
			e.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"amount": amount,
				"price":  price,
			}).Warn("Whole share exceeds amount beyond tolerance, skipping")
			return nil
		}
		qty = decimal.NewFromInt(1)
	}

	fallback := models.MarketOrderQty(symbol, side, qty)
	fallback.ClientOrderID = uuid.NewString()

	status, err = e.gw.SubmitOrder(ctx, fallback)
	if err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"qty":    qty,
	}).Info("Fell back to whole-share order")
	e.record(ctx, fallback, status)
	return nil
}

func (e *CopyCatEngine) record(ctx context.Context, order models.Order, status *models.OrderStatus) {
	if e.recorder != nil {
		if err := e.recorder.RecordOrder(ctx, e.Name(), order, status); err != nil {
			e.logger.WithError(err).Warn("Failed to record order")
		}
	}
	if e.notifier != nil {
		e.notifier.TradePlaced(ctx, e.Name(), order)
	}
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
