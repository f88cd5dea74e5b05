package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// seqGateway serves a scripted sequence of quotes per symbol, repeating
// the last one once the script runs out.
type seqGateway struct {
	*fakeGateway
	seqMu sync.Mutex
	seq   map[string][]decimal.Decimal
}

func newSeqGateway() *seqGateway {
	return &seqGateway{
		fakeGateway: newFakeGateway(),
		seq:         make(map[string][]decimal.Decimal),
	}
}

func (g *seqGateway) script(symbol string, prices ...string) {
	for _, p := range prices {
		g.seq[symbol] = append(g.seq[symbol], dollars(p))
	}
}

func (g *seqGateway) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.seqMu.Lock()
	defer g.seqMu.Unlock()

	prices := g.seq[symbol]
	if len(prices) == 0 {
		return g.fakeGateway.GetLatestPrice(ctx, symbol)
	}
	price := prices[0]
	if len(prices) > 1 {
		g.seq[symbol] = prices[1:]
	}
	return price, nil
}

func thresholdParams(symbols ...string) ThresholdParams {
	return ThresholdParams{
		Symbols:      symbols,
		Qty:          dollars("1"),
		MinGain:      dollars("1"),
		MaxLoss:      dollars("-1"),
		PollInterval: time.Millisecond,
	}
}

func TestThresholdExitsOnGain(t *testing.T) {
	gw := newSeqGateway()
	gw.script("AAPL", "100", "100.5", "102")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	err := engine.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrDone)

	orders := gw.submitted()
	require.Len(t, orders, 2)
	assert.Equal(t, models.Buy, orders[0].Side)
	assert.Equal(t, models.Sell, orders[1].Side)
	assert.Equal(t, "AAPL", orders[1].Symbol)
}

func TestThresholdExitsOnLoss(t *testing.T) {
	gw := newSeqGateway()
	gw.script("AAPL", "100", "98")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	err := engine.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrDone)

	orders := gw.submitted()
	require.Len(t, orders, 2)
	assert.Equal(t, models.Sell, orders[1].Side)
}

func TestThresholdHoldsInsideBand(t *testing.T) {
	gw := newSeqGateway()
	// Two polls inside the band before the breakout.
	gw.script("AAPL", "100", "100.9", "99.1", "103")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	orders := gw.submitted()
	require.Len(t, orders, 2)
}

func TestThresholdPrefersFillPrice(t *testing.T) {
	gw := newSeqGateway()
	// The quote says 90 but the order fills at 100; a poll at 100.5 is a
	// 50 cent gain against the fill, not a 10.50 gain against the quote.
	gw.script("AAPL", "90", "100.5", "102")
	gw.fills["AAPL"] = dollars("100")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	orders := gw.submitted()
	require.Len(t, orders, 2)
	// Entry quote plus two polls: the first poll stayed inside the band.
	g := gw
	g.seqMu.Lock()
	remaining := len(g.seq["AAPL"])
	g.seqMu.Unlock()
	assert.Equal(t, 1, remaining)
}

func TestThresholdIndependentExits(t *testing.T) {
	gw := newSeqGateway()
	gw.script("AAPL", "100", "102", "102")
	gw.script("TSLA", "50", "50.5", "48")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL", "TSLA"), testLogger())
	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	orders := gw.submitted()
	require.Len(t, orders, 4)

	sells := map[string]bool{}
	for _, order := range orders[2:] {
		assert.Equal(t, models.Sell, order.Side)
		sells[order.Symbol] = true
	}
	assert.True(t, sells["AAPL"])
	assert.True(t, sells["TSLA"])
}

func TestThresholdClearsStaleOrders(t *testing.T) {
	gw := newSeqGateway()
	gw.open = []models.OrderStatus{{ID: "stale-1"}, {ID: "stale-2"}}
	gw.script("AAPL", "100", "102")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	log := gw.callLog()
	assert.Contains(t, log, "cancel:stale-1")
	assert.Contains(t, log, "cancel:stale-2")
}

func TestThresholdEntryRejectionSkipsSymbol(t *testing.T) {
	gw := newSeqGateway()
	gw.script("AAPL", "100")
	gw.script("TSLA", "50", "52")
	gw.submitErr["AAPL"] = rejection(40310000, "asset not tradable")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL", "TSLA"), testLogger())
	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	for _, order := range gw.submitted() {
		assert.Equal(t, "TSLA", order.Symbol)
	}
}

// fillLedgerRecorder is an in-memory order recorder that also stores and
// serves fills, like the Postgres repository does.
type fillLedgerRecorder struct {
	memRecorder
	fills     map[string]decimal.Decimal
	buyPrices map[string]decimal.Decimal
}

func (r *fillLedgerRecorder) RecordFill(ctx context.Context, strategy, symbol string, qty, price decimal.Decimal) error {
	if r.fills == nil {
		r.fills = map[string]decimal.Decimal{}
	}
	r.fills[symbol] = price
	return nil
}

func (r *fillLedgerRecorder) BuyPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := r.buyPrices[symbol]
	if !ok {
		return decimal.Zero, errors.New("no recorded fill")
	}
	return price, nil
}

func TestThresholdPersistsFillPrice(t *testing.T) {
	gw := newSeqGateway()
	gw.script("AAPL", "90", "102")
	gw.fills["AAPL"] = dollars("100")

	ledger := &fillLedgerRecorder{}
	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	engine.SetRecorder(ledger)

	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	require.Contains(t, ledger.fills, "AAPL")
	assert.True(t, ledger.fills["AAPL"].Equal(dollars("100")), "the venue fill is persisted, not the pre-buy quote")
	require.NotEmpty(t, ledger.records)
}

func TestThresholdResumesHeldPosition(t *testing.T) {
	gw := newSeqGateway()
	gw.positions = []models.Position{{Symbol: "AAPL", Qty: dollars("1"), AvgEntryPrice: dollars("100")}}
	gw.script("AAPL", "100.5", "102")

	ledger := &fillLedgerRecorder{buyPrices: map[string]decimal.Decimal{"AAPL": dollars("99")}}
	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	engine.SetRecorder(ledger)

	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	// The held position is not bought again; the recorded fill price of 99
	// makes the 100.5 poll a 1.50 gain, so the only order is the exit.
	orders := gw.submitted()
	require.Len(t, orders, 1)
	assert.Equal(t, models.Sell, orders[0].Side)
	assert.Equal(t, "AAPL", orders[0].Symbol)
}

func TestThresholdResumeFallsBackToAvgEntry(t *testing.T) {
	gw := newSeqGateway()
	gw.positions = []models.Position{{Symbol: "AAPL", Qty: dollars("1"), AvgEntryPrice: dollars("100")}}
	gw.script("AAPL", "100.5", "102")

	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())
	require.ErrorIs(t, engine.RunCycle(context.Background()), ErrDone)

	// Without a fill ledger the entry price is the position's average
	// entry, so 100.5 stays inside the band and 102 triggers the exit.
	orders := gw.submitted()
	require.Len(t, orders, 1)
	assert.Equal(t, models.Sell, orders[0].Side)
}

func TestThresholdCancelledContext(t *testing.T) {
	gw := newSeqGateway()
	// The price never leaves the band, so only cancellation ends the run.
	gw.script("AAPL", "100")

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewThresholdEngine(gw, thresholdParams("AAPL"), testLogger())

	done := make(chan error, 1)
	go func() { done <- engine.RunCycle(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop on cancellation")
	}
}
