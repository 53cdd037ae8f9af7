// Package telegram delivers alerts through a Telegram bot, with an inline
// button that opens the watched page.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// OpenPageLabel is the caption of the inline URL button.
const OpenPageLabel = "Open page"

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends alerts to one chat.
type Notifier struct {
	bot    sender
	chatID int64
}

// New authenticates the bot token and returns a notifier for chatID.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram notifier requires token and chat id")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID}, nil
}

// Notify implements watch.Notifier.
func (n *Notifier) Notify(ctx context.Context, alert watch.Alert) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if _, err := n.bot.Send(n.message(alert)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (n *Notifier) message(alert watch.Alert) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(n.chatID, alert.Title+"\n\n"+alert.Body)
	msg.DisableWebPagePreview = true
	if alert.TargetURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(OpenPageLabel, alert.TargetURL),
			),
		)
	}
	return msg
}
