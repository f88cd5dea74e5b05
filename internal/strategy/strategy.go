// Package strategy contains the trading engines: mean reversion, copy
// trading, and threshold exit. Each engine implements one decision cycle;
// the shared control loop in internal/trading drives cycles against the
// market clock.
package strategy

import (
	"context"
	"errors"
)

// ErrDone is returned by a strategy whose work is finished, telling the
// control loop to stop cleanly instead of waiting for the next session.
var ErrDone = errors.New("strategy complete")

// Strategy is one trading algorithm. RunCycle executes a single decision
// cycle: read state through the gateway, decide, submit orders. The
// control loop owns waiting for market open/close and failure backoff.
type Strategy interface {
	Name() string
	RunCycle(ctx context.Context) error
}
