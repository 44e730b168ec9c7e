package service

import (
	"context"
	"fmt"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	tb "gopkg.in/telebot.v3"

	"github.com/lirano/guild-archiver/library/log"
)

// Notifier pushes operational notices to the operator.
type Notifier interface {
	Send(msg string) error
}

// TelegramNotifier delivers notices to one admin chat. The bot is send-only;
// it never polls for updates.
type TelegramNotifier struct {
	bot      *tb.Bot
	adminUID int64
}

// NewTelegramNotifier create new telegram notifier
func NewTelegramNotifier(ctx context.Context, token, api string, adminUID int64) (*TelegramNotifier, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token: token,
		URL:   api,
		Poller: &tb.LongPoller{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "new telegram bot")
	}

	return &TelegramNotifier{
		bot:      bot,
		adminUID: adminUID,
	}, nil
}

func (n *TelegramNotifier) Send(msg string) error {
	if _, err := n.bot.Send(&tb.User{ID: n.adminUID}, msg); err != nil {
		return errors.Wrap(err, "send msg by telegram")
	}

	return nil
}

// notify formats and pushes one notice. Without a configured notifier it is
// a no-op, and a delivery failure is logged, never surfaced to the caller.
func (s *Service) notify(format string, args ...any) {
	if s.notifier == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if err := s.notifier.Send(msg); err != nil {
		log.Logger.Error("send notification", zap.Error(err), zap.String("msg", msg))
	}
}
