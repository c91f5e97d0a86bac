package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const telegramRoot = "https://api.telegram.org"

// Telegram sends alerts through the Telegram Bot API.
type Telegram struct {
	rest   *resty.Client
	token  string
	chatID string
}

// NewTelegram creates a Telegram sink. token comes from @BotFather;
// chatID is the target chat, group, or channel.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		rest:   resty.New().SetBaseURL(telegramRoot).SetTimeout(requestTimeout),
		token:  token,
		chatID: chatID,
	}
}

func (t *Telegram) Send(ctx context.Context, alert Alert) error {
	icon := "ℹ️"
	switch alert.Level {
	case LevelWarning:
		icon = "⚠️"
	case LevelCritical:
		icon = "\U0001f6a8"
	}

	resp, err := t.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("%s *%s*\n\n%s", icon, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message)),
			"parse_mode": "MarkdownV2",
		}).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram: status %d", resp.StatusCode())
	}
	return nil
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte("_*[]()~`>#+-=|{}.!", s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
