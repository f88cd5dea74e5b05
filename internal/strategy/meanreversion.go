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
	"github.com/CasualCodersProjects/autostonks/internal/models"
	"github.com/CasualCodersProjects/autostonks/internal/signalcache"
)

// OrderRecorder persists submitted orders for auditing. Implemented by the
// ledger repository; a nil recorder disables recording.
type OrderRecorder interface {
	RecordOrder(ctx context.Context, strategy string, order models.Order, status *models.OrderStatus) error
}

// Notifier pushes trade events to an external channel. A nil notifier
// disables notifications.
type Notifier interface {
	TradePlaced(ctx context.Context, strategy string, order models.Order)
	CycleSummary(ctx context.Context, strategy string, sells, buys int)
}

// UniverseFunc supplies the candidate universe when no symbols are
// configured.
type UniverseFunc func(ctx context.Context) ([]string, error)

// MeanReversionParams are the knobs of the mean reversion engine.
type MeanReversionParams struct {
	// Symbols is the requested universe. Empty means use the universe
	// function (fund holdings by default).
	Symbols []string
	// Budget caps each cycle's buying. Zero means all available cash.
	Budget decimal.Decimal
	// Lookback selects the signal window.
	Lookback models.Lookback
	// BatchSize bounds multi-symbol history requests.
	BatchSize int
	// MaxPositions caps the buy candidate list after ranking.
	MaxPositions int
	// PollInterval bounds every wait loop.
	PollInterval time.Duration
	// LiquidationTimeout bounds the wait for pending sells to clear.
	LiquidationTimeout time.Duration
}

// MeanReversionEngine ranks a universe by the windowed mean reversion
// signal, liquidates disqualified holdings, and spreads a budget across the
// top candidates one whole share at a time.
type MeanReversionEngine struct {
	gw       broker.Gateway
	cache    signalcache.Store
	recorder OrderRecorder
	notifier Notifier
	universe UniverseFunc
	params   MeanReversionParams
	logger   *logrus.Logger
}

const meanReversionCacheName = "mean_reversion"

// NewMeanReversionEngine creates the engine. cache may be nil to disable
// signal caching.
func NewMeanReversionEngine(gw broker.Gateway, cache signalcache.Store, params MeanReversionParams, logger *logrus.Logger) *MeanReversionEngine {
	return &MeanReversionEngine{
		gw:     gw,
		cache:  cache,
		params: params,
		logger: logger,
	}
}

// SetRecorder attaches an order recorder.
func (e *MeanReversionEngine) SetRecorder(r OrderRecorder) { e.recorder = r }

// SetNotifier attaches a trade notifier.
func (e *MeanReversionEngine) SetNotifier(n Notifier) { e.notifier = n }

// SetUniverse attaches the fallback universe provider.
func (e *MeanReversionEngine) SetUniverse(fn UniverseFunc) { e.universe = fn }

func (e *MeanReversionEngine) Name() string { return "mean_reversion" }

// RunCycle executes one full decision cycle: load signals, rank and
// select, liquidate disqualified holdings, wait for the sells to clear,
// allocate the budget, submit buys. Disqualified-holding liquidation
// always completes before any buy is submitted, so budget is never
// allocated against capital still tied up in pending sells.
func (e *MeanReversionEngine) RunCycle(ctx context.Context) error {
	positions, err := e.gw.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}

	signals, err := e.loadSignals(ctx, positions)
	if err != nil {
		return fmt.Errorf("loading signals: %w", err)
	}

	candidates, toLiquidate := e.rankAndSelect(signals, positions)
	e.logger.WithFields(logrus.Fields{
		"candidates":   len(candidates),
		"liquidations": len(toLiquidate),
	}).Info("Cycle selection complete")

	sold, err := e.liquidate(ctx, toLiquidate)
	if err != nil {
		return fmt.Errorf("liquidating holdings: %w", err)
	}
	if sold > 0 {
		if err := e.awaitLiquidation(ctx); err != nil {
			return fmt.Errorf("awaiting liquidation: %w", err)
		}
	}

	allocation, err := e.allocateBudget(ctx, candidates)
	if err != nil {
		return fmt.Errorf("allocating budget: %w", err)
	}

	bought, err := e.submitBuys(ctx, candidates, allocation)
	if err != nil {
		return fmt.Errorf("submitting buys: %w", err)
	}

	if e.notifier != nil {
		e.notifier.CycleSummary(ctx, e.Name(), sold, bought)
	}
	return nil
}

// loadSignals returns a cached signal map when fresh, recomputing and
// persisting otherwise. The computed universe is the requested symbols
// joined with every currently owned symbol, so holdings always have a
// qualification verdict.
func (e *MeanReversionEngine) loadSignals(ctx context.Context, positions []models.Position) (models.SignalMap, error) {
	if e.cache != nil {
		entry, err := e.cache.Get(ctx, meanReversionCacheName)
		if err == nil {
			e.logger.WithField("computed_at", entry.ComputedAt).Info("Using cached signals")
			return entry.Signals, nil
		}
		if !errors.Is(err, signalcache.ErrCacheMiss) {
			return nil, err
		}
	}

	symbols, err := e.universeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	universe := unionSymbols(symbols, positions)

	e.logger.WithField("symbols", len(universe)).Info("Computing signals")
	signals, err := ComputeSignals(ctx, e.gw, universe, e.params.Lookback, e.params.BatchSize, e.logger)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		entry := &models.CacheEntry{ComputedAt: time.Now(), Signals: signals}
		if err := e.cache.Put(ctx, meanReversionCacheName, entry); err != nil {
			// A failed cache write costs a recomputation next cycle, not
			// the current decision.
			e.logger.WithError(err).Warn("Failed to persist signal cache")
		}
	}

	return signals, nil
}

func (e *MeanReversionEngine) universeSymbols(ctx context.Context) ([]string, error) {
	if len(e.params.Symbols) > 0 {
		return e.params.Symbols, nil
	}
	if e.universe == nil {
		return nil, errors.New("no symbols configured and no universe provider")
	}
	return e.universe(ctx)
}

// rankAndSelect sorts by signal descending, qualifies symbols with a
// positive signal, caps the buy list, and schedules every owned symbol
// without a qualifying signal for full liquidation.
func (e *MeanReversionEngine) rankAndSelect(signals models.SignalMap, positions []models.Position) (candidates []string, toLiquidate []models.Position) {
	for _, symbol := range RankSignals(signals) {
		if !signals[symbol].IsPositive() {
			break
		}
		if len(candidates) < e.params.MaxPositions {
			candidates = append(candidates, symbol)
		}
	}

	for _, pos := range positions {
		signal, ok := signals[pos.Symbol]
		if !ok || !signal.IsPositive() {
			toLiquidate = append(toLiquidate, pos)
		}
	}

	return candidates, toLiquidate
}

// liquidate submits a full-position sell per disqualified holding. Venue
// rejections are logged and skipped; transport failures abort the cycle.
func (e *MeanReversionEngine) liquidate(ctx context.Context, positions []models.Position) (int, error) {
	sold := 0
	for _, pos := range positions {
		order := models.MarketOrderQty(pos.Symbol, models.Sell, pos.Qty)
		order.ClientOrderID = uuid.NewString()

		status, err := e.gw.SubmitOrder(ctx, order)
		if err != nil {
			var rejection *broker.RejectionError
			if errors.As(err, &rejection) {
				e.logger.WithFields(logrus.Fields{
					"symbol": pos.Symbol,
					"reason": rejection.Message,
				}).Warn("Liquidation rejected, skipping")
				continue
			}
			return sold, err
		}

		e.logger.WithFields(logrus.Fields{
			"symbol": pos.Symbol,
			"qty":    pos.Qty,
		}).Info("Submitted liquidation")
		e.record(ctx, order, status)
		sold++
	}
	return sold, nil
}

// awaitLiquidation polls until no open orders remain, bounded by the
// liquidation timeout.
func (e *MeanReversionEngine) awaitLiquidation(ctx context.Context) error {
	deadline := time.Now().Add(e.params.LiquidationTimeout)
	for {
		orders, err := e.gw.ListOrders(ctx, "open")
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d orders still open after %s", len(orders), e.params.LiquidationTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.params.PollInterval):
		}
	}
}

// allocateBudget fetches prices for the candidates and spreads the budget
// across them. If available cash is under the configured budget, nothing
// is allocated this cycle.
func (e *MeanReversionEngine) allocateBudget(ctx context.Context, candidates []string) (map[string]int64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	account, err := e.gw.GetAccount(ctx)
	if err != nil {
		return nil, err
	}

	budget := e.params.Budget
	if budget.IsZero() {
		budget = account.Cash
	}
	if account.Cash.LessThan(budget) {
		e.logger.WithFields(logrus.Fields{
			"cash":   account.Cash,
			"budget": budget,
		}).Warn("Cash below budget, skipping allocation this cycle")
		return nil, nil
	}

	prices := make(map[string]decimal.Decimal, len(candidates))
	for _, symbol := range candidates {
		price, err := e.gw.GetLatestPrice(ctx, symbol)
		if err != nil {
			var unavailable *broker.UnavailableError
			if errors.As(err, &unavailable) {
				return nil, err
			}
			e.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"error":  err.Error(),
			}).Warn("No current price, excluding candidate")
			continue
		}
		if !price.IsPositive() {
			e.logger.WithField("symbol", symbol).Warn("Non-positive price, excluding candidate")
			continue
		}
		prices[symbol] = price
	}

	return AllocateBudget(budget, candidates, prices), nil
}

// AllocateBudget spreads budget across candidates in ranked order, one
// whole share at a time, stopping the moment the next share would exceed
// the remaining budget. Spreading round-robin rather than filling the top
// candidate first bounds capital concentration; sum(shares × price) never
// exceeds budget.
func AllocateBudget(budget decimal.Decimal, ranked []string, prices map[string]decimal.Decimal) map[string]int64 {
	shares := make(map[string]int64)
	remaining := budget

	for {
		progressed := false
		for _, symbol := range ranked {
			price, ok := prices[symbol]
			if !ok || !price.IsPositive() {
				continue
			}
			if price.GreaterThan(remaining) {
				return shares
			}
			shares[symbol]++
			remaining = remaining.Sub(price)
			progressed = true
		}
		if !progressed {
			return shares
		}
	}
}

// submitBuys submits one whole-share buy per candidate with a positive
// allocation and returns how many went through. Rejections are logged and
// skipped, not retried in-cycle.
func (e *MeanReversionEngine) submitBuys(ctx context.Context, ranked []string, allocation map[string]int64) (int, error) {
	bought := 0
	for _, symbol := range ranked {
		qty := allocation[symbol]
		if qty == 0 {
			continue
		}

		order := models.MarketOrderQty(symbol, models.Buy, decimal.NewFromInt(qty))
		order.ClientOrderID = uuid.NewString()

		status, err := e.gw.SubmitOrder(ctx, order)
		if err != nil {
			var rejection *broker.RejectionError
			if errors.As(err, &rejection) {
				e.logger.WithFields(logrus.Fields{
					"symbol": symbol,
					"reason": rejection.Message,
				}).Warn("Buy rejected, skipping")
				continue
			}
			return bought, err
		}

		e.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"qty":    qty,
		}).Info("Submitted buy")
		e.record(ctx, order, status)
		bought++
	}
	return bought, nil
}

func (e *MeanReversionEngine) record(ctx context.Context, order models.Order, status *models.OrderStatus) {
	if e.recorder != nil {
		if err := e.recorder.RecordOrder(ctx, e.Name(), order, status); err != nil {
			e.logger.WithError(err).Warn("Failed to record order")
		}
	}
	if e.notifier != nil {
		e.notifier.TradePlaced(ctx, e.Name(), order)
	}
}

func unionSymbols(symbols []string, positions []models.Position) []string {
	seen := make(map[string]struct{}, len(symbols)+len(positions))
	for _, s := range symbols {
		seen[s] = struct{}{}
	}
	for _, p := range positions {
		seen[p.Symbol] = struct{}{}
	}

	union := make([]string, 0, len(seen))
	for s := range seen {
		union = append(union, s)
	}
	sort.Strings(union)
	return union
}
