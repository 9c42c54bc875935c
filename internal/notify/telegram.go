package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Sender delivers one rendered message to a chat. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramSender delivers via the Bot API.
type TelegramSender struct {
	http *resty.Client
}

func NewTelegramSender(botToken string) *TelegramSender {
	client := resty.New().
		SetBaseURL("https://api.telegram.org/bot" + botToken).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	return &TelegramSender{http: client}
}

func (t *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": "HTML",
			"disable_web_page_preview": true,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}
