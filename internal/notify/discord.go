package notify

import (
	"context"
	"net/http"
)

// Embed colours per severity.
const (
	colorInfo     = 0x3498db
	colorWarning  = 0xf1c40f
	colorCritical = 0xe74c3c
)

// DiscordSender delivers alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

// Send posts the alert. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, alert Alert) error {
	embed := discordEmbed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       discordColor(alert.Severity),
	}
	embed.Footer.Text = alert.Event + " | " + alert.Severity.String()

	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"embeds": []discordEmbed{embed},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }

func discordColor(s Severity) int {
	switch s {
	case SeverityCritical:
		return colorCritical
	case SeverityWarning:
		return colorWarning
	default:
		return colorInfo
	}
}
