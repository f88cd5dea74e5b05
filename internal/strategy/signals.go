package strategy

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/broker"
	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// Market data is served with a 15 minute delay on the free feed, so the
// window always ends slightly in the past.
const dataDelay = 15 * time.Minute

const signalTimeframe = "1Hour"

// ComputeSignals derives the trend signal for each symbol: the arithmetic
// mean of consecutive close-price deltas over the lookback window. Symbols
// are fetched in fixed-size batches; a batch that comes back empty falls
// back to a single-symbol fetch per member before that symbol is given up
// on. A symbol with fewer than two bars is excluded from the result, never
// reported as zero. The merge is keyed by symbol, so fetch order cannot
// affect the final map.
func ComputeSignals(ctx context.Context, gw broker.Gateway, symbols []string, lookback models.Lookback, batchSize int, logger *logrus.Logger) (models.SignalMap, error) {
	now := time.Now()
	start := lookback.Start(now)
	end := now.Add(-dataDelay)

	barsBySymbol := make(map[string][]models.PriceBar)

	for _, batch := range chunkSymbols(symbols, batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fetched, err := gw.GetPriceHistory(ctx, batch, signalTimeframe, start, end)
		if err != nil {
			return nil, err
		}

		if len(fetched) == 0 {
			// The venue occasionally rejects whole multi-symbol requests
			// over one bad member. Retry each symbol alone before giving
			// up on any of them.
			for _, symbol := range batch {
				single, err := gw.GetPriceHistory(ctx, []string{symbol}, signalTimeframe, start, end)
				if err != nil {
					return nil, err
				}
				if len(single[symbol]) == 0 {
					logger.WithField("symbol", symbol).Warn("No price history, excluding symbol")
					continue
				}
				barsBySymbol[symbol] = single[symbol]
			}
			continue
		}

		for symbol, bars := range fetched {
			barsBySymbol[symbol] = append(barsBySymbol[symbol], bars...)
		}
	}

	signals := make(models.SignalMap)
	for symbol, bars := range barsBySymbol {
		signal, ok := meanCloseDelta(bars)
		if !ok {
			logger.WithField("symbol", symbol).Debug("Fewer than two bars, no signal")
			continue
		}
		signals[symbol] = signal
	}

	return signals, nil
}

// meanCloseDelta computes the mean of first differences of closes over
// chronologically sorted, deduplicated bars. ok is false when fewer than
// two distinct bars exist.
func meanCloseDelta(bars []models.PriceBar) (decimal.Decimal, bool) {
	sorted := broker.SortBars(bars)
	if len(sorted) < 2 {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for i := 1; i < len(sorted); i++ {
		sum = sum.Add(sorted[i].Close.Sub(sorted[i-1].Close))
	}

	return sum.Div(decimal.NewFromInt(int64(len(sorted) - 1))), true
}

// RankSignals orders symbols by signal value descending. Ties break on the
// symbol name so the ranking is deterministic.
func RankSignals(signals models.SignalMap) []string {
	symbols := make([]string, 0, len(signals))
	for symbol := range signals {
		symbols = append(symbols, symbol)
	}

	sort.Slice(symbols, func(i, j int) bool {
		cmp := signals[symbols[i]].Cmp(signals[symbols[j]])
		if cmp != 0 {
			return cmp > 0
		}
		return symbols[i] < symbols[j]
	})

	return symbols
}

func chunkSymbols(symbols []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var chunks [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}
