package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends a formatted alert to the configured channel. Callers treat
// a send failure as retryable and must roll back any dedupe insert tied to
// the attempted notification.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// botAPI is the slice of tgbot.BotAPI the notifier uses. Tests substitute it.
type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram delivers alerts to a single chat.
type Telegram struct {
	bot    botAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier. Missing credentials are a
// configuration error surfaced immediately, not at send time.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram credentials are not configured")
	}
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Send delivers one message to the configured chat.
func (t *Telegram) Send(_ context.Context, text string) error {
	if t == nil || t.bot == nil {
		return fmt.Errorf("telegram notifier is not configured")
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
