package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/broker"
	"github.com/CasualCodersProjects/autostonks/internal/config"
	"github.com/CasualCodersProjects/autostonks/internal/disclosure"
	"github.com/CasualCodersProjects/autostonks/internal/ledger"
	"github.com/CasualCodersProjects/autostonks/internal/models"
	"github.com/CasualCodersProjects/autostonks/internal/notify"
	"github.com/CasualCodersProjects/autostonks/internal/signalcache"
	"github.com/CasualCodersProjects/autostonks/internal/status"
	"github.com/CasualCodersProjects/autostonks/internal/strategy"
	"github.com/CasualCodersProjects/autostonks/internal/trading"
)

const (
	exitOK    = 0
	exitFatal = 1
	// exitRetriesExhausted is returned when the control loop gives up
	// after its bounded failure path.
	exitRetriesExhausted = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, reading credentials from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFatal
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	parser := argparse.NewParser("autostonks", "Buys and sells stocks on the brokerage based on a set of algorithms.")

	meanCmd := parser.NewCommand("meanreversion", "Rank a universe by trend signal and rebalance daily.")
	meanSymbols := meanCmd.StringList("s", "symbol", &argparse.Options{Help: "Symbols to trade; defaults to tracked fund holdings"})
	meanBudget := meanCmd.Float("b", "budget", &argparse.Options{Default: cfg.MeanReversion.Budget, Help: "Fixed daily budget in dollars; 0 uses all available cash"})
	meanLookback := meanCmd.Selector("l", "lookback", []string{"day", "week", "month"}, &argparse.Options{Default: cfg.MeanReversion.Lookback, Help: "Signal lookback window"})
	meanNoCache := meanCmd.Flag("n", "no-cache", &argparse.Options{Help: "Recompute signals every cycle"})

	copycatCmd := parser.NewCommand("copycat", "Mirror a tracked fund's previous day's trades.")
	ccFund := copycatCmd.String("f", "fund", &argparse.Options{Default: cfg.CopyCat.Fund, Help: "Tracked fund symbol"})
	ccPercent := copycatCmd.Float("p", "budget-percent", &argparse.Options{Default: cfg.CopyCat.BudgetPercent, Help: "Fraction of free cash to deploy per day"})
	ccMinBalance := copycatCmd.Float("m", "min-balance", &argparse.Options{Default: cfg.CopyCat.MinBalance, Help: "Cash that is never deployed"})

	thresholdCmd := parser.NewCommand("threshold", "Buy symbols and exit each on a gain or loss threshold.")
	thSymbols := thresholdCmd.StringList("s", "symbol", &argparse.Options{Help: "Symbols to buy"})
	thQty := thresholdCmd.Int("q", "qty", &argparse.Options{Default: int(cfg.Threshold.Qty), Help: "Shares per symbol"})
	thGain := thresholdCmd.Float("g", "gain", &argparse.Options{Default: cfg.Threshold.MinGain, Help: "Dollar gain that triggers a sell"})
	thLoss := thresholdCmd.Float("l", "loss", &argparse.Options{Default: cfg.Threshold.MaxLoss, Help: "Dollar loss that triggers a sell (negative)"})

	discCmd := parser.NewCommand("disclosure", "Print a fund's disclosed trades or holdings as JSON.")
	discFund := discCmd.String("f", "fund", &argparse.Options{Default: cfg.CopyCat.Fund, Help: "Fund symbol"})
	discMode := discCmd.Selector("m", "mode", []string{"trades", "holdings"}, &argparse.Options{Default: "trades", Help: "What to fetch"})
	discFrom := discCmd.String("", "from", &argparse.Options{Help: "Start date (YYYY-MM-DD)"})
	discTo := discCmd.String("", "to", &argparse.Options{Help: "End date (YYYY-MM-DD)"})
	discLimit := discCmd.Int("", "limit", &argparse.Options{Default: 100, Help: "Result limit"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disc := disclosure.NewClient(&cfg.Disclosure, logger)

	// The disclosure query mode needs no brokerage credentials.
	if discCmd.Happened() {
		return runDisclosureQuery(ctx, disc, *discFund, *discMode, *discFrom, *discTo, *discLimit)
	}

	// Flag overrides ahead of validation, so bad flags fail fast too.
	// Only the chosen subcommand's flags touch the config.
	switch {
	case meanCmd.Happened():
		cfg.MeanReversion.Symbols = append(cfg.MeanReversion.Symbols, *meanSymbols...)
		cfg.MeanReversion.Budget = *meanBudget
		cfg.MeanReversion.Lookback = *meanLookback
		if *meanNoCache {
			cfg.Cache.Enabled = false
		}
	case copycatCmd.Happened():
		cfg.CopyCat.Fund = *ccFund
		cfg.CopyCat.BudgetPercent = *ccPercent
		cfg.CopyCat.MinBalance = *ccMinBalance
	case thresholdCmd.Happened():
		cfg.Threshold.Symbols = append(cfg.Threshold.Symbols, *thSymbols...)
		cfg.Threshold.Qty = int64(*thQty)
		cfg.Threshold.MinGain = *thGain
		cfg.Threshold.MaxLoss = *thLoss
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitFatal
	}

	gw := broker.NewAlpacaClient(&cfg.Alpaca, logger)
	notifier := notify.NewNotifier(&cfg.Telegram, logger)

	var recorder *ledger.Repository
	if cfg.Database.Enabled {
		pool, err := ledger.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to ledger database")
			return exitFatal
		}
		defer pool.Close()
		recorder = ledger.NewRepository(pool)
		if err := recorder.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Error("Failed to prepare ledger schema")
			return exitFatal
		}
	}

	var strat strategy.Strategy
	switch {
	case meanCmd.Happened():
		store, err := newCacheStore(cfg, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize signal cache")
			return exitFatal
		}
		engine := strategy.NewMeanReversionEngine(gw, store, meanReversionParams(cfg), logger)
		engine.SetUniverse(func(ctx context.Context) ([]string, error) {
			return disc.AllFundTickers(ctx, cfg.Disclosure.Funds)
		})
		if recorder != nil {
			engine.SetRecorder(recorder)
		}
		if notifier != nil {
			engine.SetNotifier(notifier)
		}
		strat = engine

	case copycatCmd.Happened():
		engine := strategy.NewCopyCatEngine(gw, disc, strategy.CopyCatParams{
			Fund:          cfg.CopyCat.Fund,
			BudgetPercent: decimal.NewFromFloat(cfg.CopyCat.BudgetPercent),
			MinBalance:    decimal.NewFromFloat(cfg.CopyCat.MinBalance),
		}, logger)
		if recorder != nil {
			engine.SetRecorder(recorder)
		}
		if notifier != nil {
			engine.SetNotifier(notifier)
		}
		strat = engine

	case thresholdCmd.Happened():
		if len(cfg.Threshold.Symbols) == 0 {
			fmt.Fprintln(os.Stderr, "threshold requires at least one --symbol")
			return exitFatal
		}
		pollInterval, _ := time.ParseDuration(cfg.Threshold.PollInterval)
		engine := strategy.NewThresholdEngine(gw, strategy.ThresholdParams{
			Symbols:      cfg.Threshold.Symbols,
			Qty:          decimal.NewFromInt(cfg.Threshold.Qty),
			MinGain:      decimal.NewFromFloat(cfg.Threshold.MinGain),
			MaxLoss:      decimal.NewFromFloat(cfg.Threshold.MaxLoss),
			PollInterval: pollInterval,
		}, logger)
		if recorder != nil {
			engine.SetRecorder(recorder)
		}
		if notifier != nil {
			engine.SetNotifier(notifier)
		}
		strat = engine

	default:
		fmt.Fprint(os.Stderr, parser.Usage(nil))
		return exitFatal
	}

	tracker := status.NewTracker()
	if cfg.Server.Port > 0 {
		srv := status.NewServer(cfg.Server.Port, tracker)
		go status.Serve(srv, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Warn("Status server shutdown failed")
			}
		}()
	}

	pollInterval, _ := time.ParseDuration(cfg.Trading.PollInterval)
	retryBackoff, _ := time.ParseDuration(cfg.Trading.RetryBackoff)
	policy := trading.RetryPolicy{
		MaxAttempts: cfg.Trading.MaxRetries,
		Backoff:     trading.LinearBackoff(retryBackoff),
	}

	loop := trading.NewLoop(gw, strat, policy, pollInterval, logger)
	loop.SetObserver(tracker)

	logger.WithField("strategy", strat.Name()).Info("Starting")
	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Shutdown requested, exiting")
			return exitOK
		}
		logger.WithError(err).Error("Trading loop terminated")
		if notifier != nil {
			notifier.CycleFailed(context.Background(), strat.Name(), err)
		}
		return exitRetriesExhausted
	}

	return exitOK
}

func meanReversionParams(cfg *config.Config) strategy.MeanReversionParams {
	pollInterval, _ := time.ParseDuration(cfg.Trading.PollInterval)
	liquidationTimeout, _ := time.ParseDuration(cfg.Trading.LiquidationTimeout)
	return strategy.MeanReversionParams{
		Symbols:            cfg.MeanReversion.Symbols,
		Budget:             decimal.NewFromFloat(cfg.MeanReversion.Budget),
		Lookback:           models.Lookback(cfg.MeanReversion.Lookback),
		BatchSize:          cfg.MeanReversion.BatchSize,
		MaxPositions:       cfg.MeanReversion.MaxPositions,
		PollInterval:       pollInterval,
		LiquidationTimeout: liquidationTimeout,
	}
}

func newCacheStore(cfg *config.Config, logger *logrus.Logger) (signalcache.Store, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	if cfg.Cache.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return signalcache.NewRedisStore(client, cfg.CacheTTL(), logger), nil
	}

	return signalcache.NewFileStore(cfg.Cache.Dir, cfg.CacheTTL(), logger)
}

func runDisclosureQuery(ctx context.Context, disc *disclosure.Client, fund, mode, from, to string, limit int) int {
	var payload interface{}
	var err error

	switch mode {
	case "holdings":
		payload, err = disc.GetFundHoldings(ctx, fund, from, to, limit)
	default:
		payload, err = disc.GetFundTrades(ctx, fund, from, to, limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Disclosure query failed: %v\n", err)
		return exitFatal
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode response: %v\n", err)
		return exitFatal
	}
	fmt.Println(string(out))
	return exitOK
}
