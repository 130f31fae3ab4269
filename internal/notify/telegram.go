package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers alerts through the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat. An empty apiBase selects the public Bot API.
func NewTelegramSender(apiBase, token, chatID string) *TelegramSender {
	if apiBase == "" {
		apiBase = telegramAPI
	}
	return &TelegramSender{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts the alert with sendMessage. Critical alerts are sent with
// sound, the rest silently.
func (t *TelegramSender) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	text := fmt.Sprintf("%s *%s*\n%s", telegramIcon(alert.Severity), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))

	return postJSON(ctx, t.client, "telegram", url, map[string]any{
		"chat_id":              t.chatID,
		"text":                 text,
		"parse_mode":           "Markdown",
		"disable_notification": alert.Severity != SeverityCritical,
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }

func telegramIcon(s Severity) string {
	switch s {
	case SeverityCritical:
		return "[CRITICAL]"
	case SeverityWarning:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}

// escapeMarkdown escapes the legacy Markdown control characters so market
// IDs with underscores render literally.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
