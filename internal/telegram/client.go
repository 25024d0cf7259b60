// Package telegram is a thin client over the Telegram Bot API exposing
// the handful of calls the delivery flow needs: text and document sends
// plus webhook management.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxMessageLength = 4096

// WebhookInfo is the subset of webhook state surfaced to operators.
type WebhookInfo struct {
	URL                string `json:"url"`
	PendingUpdateCount int    `json:"pending_update_count"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// SelfInfo identifies the bot account behind the configured token.
type SelfInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Client wraps a single bot token's API connection.
type Client struct {
	logger *slog.Logger
	bot    *tgbotapi.BotAPI
}

// NewClient authenticates the bot token against the Telegram API.
func NewClient(log *slog.Logger, token string) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	logger := log.With(slog.String("service", "telegram"))
	_ = tgbotapi.SetLogger(&slogBotLogger{log: logger})
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Client{logger: logger, bot: bot}, nil
}

// SendText sends a plain text message to the chat identity.
func (c *Client) SendText(ctx context.Context, chatID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = truncateText(strings.ToValidUTF8(text, ""))
	if strings.HasPrefix(chatID, "@") {
		_, err := c.bot.Send(tgbotapi.NewMessageToChannel(chatID, text))
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = c.bot.Send(tgbotapi.NewMessage(id, text))
	return err
}

// SendFile sends a local file as a document with an optional caption.
func (c *Client) SendFile(ctx context.Context, chatID string, filePath string, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file := tgbotapi.FilePath(filePath)
	var document tgbotapi.DocumentConfig
	if strings.HasPrefix(chatID, "@") {
		document = tgbotapi.DocumentConfig{
			BaseFile: tgbotapi.BaseFile{
				BaseChat: tgbotapi.BaseChat{ChannelUsername: chatID},
				File:     file,
			},
		}
	} else {
		id, err := parseChatID(chatID)
		if err != nil {
			return err
		}
		document = tgbotapi.NewDocument(id, file)
	}
	document.Caption = caption
	_, err := c.bot.Send(document)
	return err
}

// SetWebhook registers url as the update webhook.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hook, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}
	_, err = c.bot.Request(hook)
	return err
}

// RemoveWebhook unregisters the update webhook.
func (c *Client) RemoveWebhook(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}

// GetWebhookInfo reports the currently registered webhook.
func (c *Client) GetWebhookInfo(ctx context.Context) (WebhookInfo, error) {
	if err := ctx.Err(); err != nil {
		return WebhookInfo{}, err
	}
	info, err := c.bot.GetWebhookInfo()
	if err != nil {
		return WebhookInfo{}, err
	}
	return WebhookInfo{
		URL:                info.URL,
		PendingUpdateCount: info.PendingUpdateCount,
		LastErrorMessage:   info.LastErrorMessage,
	}, nil
}

// GetSelfInfo returns the authenticated bot account.
func (c *Client) GetSelfInfo() SelfInfo {
	return SelfInfo{
		ID:       c.bot.Self.ID,
		Username: c.bot.Self.UserName,
	}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chat identity must be @username or a numeric chat id")
	}
	return id, nil
}

// truncateText truncates to the API message length limit on a rune boundary.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}

// slogBotLogger adapts slog to the bot API library's logger interface.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(fmt.Sprintln(v...))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
