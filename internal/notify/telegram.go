// Package notify pushes trade events to Telegram. Notification failures
// are logged and never fail a trading cycle.
package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/config"
	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// Notifier sends trade and lifecycle messages to a Telegram chat.
type Notifier struct {
	bot    *bot.Bot
	chatID int64
	logger *logrus.Logger
}

// NewNotifier builds a notifier from configuration. Returns nil when no
// bot token or chat ID is configured, which disables notifications.
func NewNotifier(cfg *config.TelegramConfig, logger *logrus.Logger) *Notifier {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil
	}

	b, err := bot.New(cfg.BotToken)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize Telegram bot, notifications disabled")
		return nil
	}

	return &Notifier{bot: b, chatID: cfg.ChatID, logger: logger}
}

// TradePlaced announces a submitted order.
func (n *Notifier) TradePlaced(ctx context.Context, strategy string, order models.Order) {
	var sizing string
	switch {
	case order.Notional != nil:
		sizing = fmt.Sprintf("$%s", order.Notional.StringFixed(2))
	case order.Qty != nil:
		sizing = fmt.Sprintf("%s shares", order.Qty.String())
	}

	n.send(ctx, fmt.Sprintf("[%s] %s %s %s", strategy, order.Side, sizing, order.Symbol))
}

// CycleSummary announces the outcome of a completed trading cycle.
func (n *Notifier) CycleSummary(ctx context.Context, strategy string, sells, buys int) {
	n.send(ctx, fmt.Sprintf("[%s] cycle complete: %d sold, %d bought", strategy, sells, buys))
}

// CycleFailed announces a failed trading cycle.
func (n *Notifier) CycleFailed(ctx context.Context, strategy string, err error) {
	n.send(ctx, fmt.Sprintf("[%s] cycle failed: %v", strategy, err))
}

func (n *Notifier) send(ctx context.Context, text string) {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		n.logger.WithError(err).Warn("Failed to send Telegram notification")
	}
}
