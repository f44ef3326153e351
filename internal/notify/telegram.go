package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender pushes alerts through the Telegram Bot API to one chat.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender builds a sender for the given bot token and chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert via sendMessage, title bolded in Markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	return postJSON(ctx, t.client, "telegram", url, map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
