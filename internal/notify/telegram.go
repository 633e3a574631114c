package notify

import (
	"time"

	"github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
)

// Notifier publishes operator messages.
type Notifier interface {
	Notify(message string)
}

// Telegram sends messages to a fixed chat. Send failures are logged
// and dropped; notifications must never stall the trading loop.
type Telegram struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *logrus.Logger
}

func NewTelegram(token string, chatID int64, logger *logrus.Logger) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:    bot,
		chat:   &tele.Chat{ID: chatID},
		logger: logger,
	}, nil
}

func (t *Telegram) Notify(message string) {
	go func() {
		if _, err := t.bot.Send(t.chat, message); err != nil {
			t.logger.WithError(err).Warn("Failed to send notification")
		}
	}()
}

// Noop discards notifications, used when Telegram is not configured.
type Noop struct{}

func (Noop) Notify(string) {}
