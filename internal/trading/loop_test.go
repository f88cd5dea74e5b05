package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasualCodersProjects/autostonks/internal/broker"
	"github.com/CasualCodersProjects/autostonks/internal/models"
	"github.com/CasualCodersProjects/autostonks/internal/strategy"
)

// clockGateway implements just enough of the gateway for the loop: a
// scripted sequence of market clock states, repeating the last one.
type clockGateway struct {
	mu     sync.Mutex
	states []bool
	polls  int
}

func (g *clockGateway) GetClock(ctx context.Context) (*models.Clock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++

	open := true
	if len(g.states) > 0 {
		open = g.states[0]
		if len(g.states) > 1 {
			g.states = g.states[1:]
		}
	}
	return &models.Clock{IsOpen: open}, nil
}

func (g *clockGateway) clockPolls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

func (g *clockGateway) GetAccount(ctx context.Context) (*models.Account, error) {
	return &models.Account{}, nil
}

func (g *clockGateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}

func (g *clockGateway) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	return nil, &broker.RejectionError{Message: "position does not exist"}
}

func (g *clockGateway) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *clockGateway) GetPriceHistory(ctx context.Context, symbols []string, timeframe string, start, end time.Time) (map[string][]models.PriceBar, error) {
	return nil, nil
}

func (g *clockGateway) ListOrders(ctx context.Context, status string) ([]models.OrderStatus, error) {
	return nil, nil
}

func (g *clockGateway) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (g *clockGateway) SubmitOrder(ctx context.Context, order models.Order) (*models.OrderStatus, error) {
	return &models.OrderStatus{}, nil
}

// scriptedStrategy returns its scripted errors in order, then ErrDone.
type scriptedStrategy struct {
	mu      sync.Mutex
	results []error
	cycles  int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) RunCycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	if len(s.results) == 0 {
		return strategy.ErrDone
	}
	err := s.results[0]
	s.results = s.results[1:]
	return err
}

func (s *scriptedStrategy) cycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panicky" }

func (panicStrategy) RunCycle(ctx context.Context) error {
	panic("nil position dereference")
}

func loopLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: NoBackoff()}
}

func TestLoopStopsWhenStrategyDone(t *testing.T) {
	gw := &clockGateway{}
	strat := &scriptedStrategy{}

	loop := NewLoop(gw, strat, testPolicy(3), time.Millisecond, loopLogger())
	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 1, strat.cycleCount())
}

func TestLoopRetriesThenGivesUp(t *testing.T) {
	gw := &clockGateway{}
	boom := errors.New("venue fell over")
	strat := &scriptedStrategy{results: []error{boom, boom, boom, boom}}

	loop := NewLoop(gw, strat, testPolicy(3), time.Millisecond, loopLogger())
	err := loop.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "3 consecutive failures")
	assert.Equal(t, 3, strat.cycleCount())
}

func TestLoopFailureCounterResetsOnSuccess(t *testing.T) {
	// The market closes after the successful third cycle and reopens for
	// the next iteration.
	gw := &clockGateway{states: []bool{true, true, true, false, true}}
	boom := errors.New("transient")
	// Two failures, a success, two more failures, then done. With a
	// three-attempt budget the loop must survive all of it.
	strat := &scriptedStrategy{results: []error{boom, boom, nil, boom, boom}}

	loop := NewLoop(gw, strat, testPolicy(3), time.Millisecond, loopLogger())
	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 6, strat.cycleCount())
}

func TestLoopRecoversPanics(t *testing.T) {
	gw := &clockGateway{}

	loop := NewLoop(gw, panicStrategy{}, testPolicy(2), time.Millisecond, loopLogger())
	err := loop.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle panicked")
	assert.Contains(t, err.Error(), "nil position dereference")
}

func TestLoopWaitsForOpenBeforeCycling(t *testing.T) {
	gw := &clockGateway{states: []bool{false, false, true}}
	strat := &scriptedStrategy{}

	loop := NewLoop(gw, strat, testPolicy(3), time.Millisecond, loopLogger())
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, 1, strat.cycleCount())
	assert.GreaterOrEqual(t, gw.clockPolls(), 3)
}

func TestLoopCancellation(t *testing.T) {
	// A permanently closed market parks the loop in the clock wait.
	gw := &clockGateway{states: []bool{false}}
	strat := &scriptedStrategy{}

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(gw, strat, testPolicy(3), time.Millisecond, loopLogger())

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancellation")
	}
	assert.Equal(t, 0, strat.cycleCount())
}

func TestLoopNotifiesObserver(t *testing.T) {
	gw := &clockGateway{}
	boom := errors.New("bad cycle")
	strat := &scriptedStrategy{results: []error{boom}}

	observer := &recordingObserver{}
	loop := NewLoop(gw, strat, testPolicy(5), time.Millisecond, loopLogger())
	loop.SetObserver(observer)

	require.NoError(t, loop.Run(context.Background()))

	// One failed cycle and one that returned done.
	assert.Equal(t, 2, observer.started)
	require.Len(t, observer.finished, 2)
	assert.ErrorIs(t, observer.finished[0], boom)
	assert.ErrorIs(t, observer.finished[1], strategy.ErrDone)
}

func TestLinearBackoff(t *testing.T) {
	backoff := LinearBackoff(30 * time.Second)
	assert.Equal(t, 30*time.Second, backoff(1))
	assert.Equal(t, 90*time.Second, backoff(3))
	assert.Equal(t, time.Duration(0), NoBackoff()(7))
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	finished []error
}

func (o *recordingObserver) CycleStarted(strategyName string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) CycleFinished(at time.Time, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, err)
}
