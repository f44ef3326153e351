package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DiscordSender pushes alerts to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender builds a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the webhook, title bolded. Discord answers
// 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

func (d *DiscordSender) Name() string { return "discord" }
