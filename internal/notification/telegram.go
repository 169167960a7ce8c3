package notification

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier delivers alerts to a single chat. Send-only; it
// never polls for updates.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	log     zerolog.Logger
}

// NewTelegramNotifier connects to the bot API. Empty credentials yield
// a disabled notifier rather than an error, so the bot can run without
// a chat channel configured.
func NewTelegramNotifier(token string, chatID int64, logger zerolog.Logger) (*TelegramNotifier, error) {
	l := logger.With().Str("component", "telegram").Logger()
	if token == "" || chatID == 0 {
		l.Info().Msg("telegram credentials absent, notifier disabled")
		return &TelegramNotifier{log: l}, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting telegram bot: %w", err)
	}
	l.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier connected")

	return &TelegramNotifier{
		bot:     bot,
		chatID:  chatID,
		enabled: true,
		log:     l,
	}, nil
}

// Send posts subject and message as one plain-text chat message.
// Markdown stays off: client order ids contain underscores.
func (t *TelegramNotifier) Send(subject, message string) error {
	if !t.enabled {
		return nil
	}
	msg := tgbotapi.NewMessage(t.chatID, subject+"\n"+message)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// Name identifies the channel in logs.
func (t *TelegramNotifier) Name() string { return "telegram" }

// IsEnabled reports whether credentials were configured.
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }
