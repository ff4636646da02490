package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"ipwatch/internal/types"

	"go.uber.org/zap"
)

// TelegramNotifier represents Telegram notifier
type TelegramNotifier struct {
	config *TelegramConfig
	logger *zap.Logger
	client *http.Client
}

// TelegramMessage represents Telegram message
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// NewTelegramNotifier creates new Telegram notifier
func NewTelegramNotifier(cfg *TelegramConfig, client *http.Client, logger *zap.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("telegram bot token and chat IDs are required")
	}

	return &TelegramNotifier{
		config: cfg,
		logger: logger,
		client: client,
	}, nil
}

// Type implements Notifier
func (n *TelegramNotifier) Type() NotifierType { return NotifierTelegram }

// Send implements Notifier
func (n *TelegramNotifier) Send(ctx context.Context, msg *types.Message) error {
	text, mode := n.format(msg)

	var errs []string
	for _, chatID := range n.config.ChatIDs {
		if err := n.sendMessage(ctx, chatID, text, mode); err != nil {
			errs = append(errs, fmt.Sprintf("chat_id %s: %v", chatID, err))
			n.logger.Error("Failed to send telegram message",
				zap.Error(err),
				zap.String("chat_id", chatID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to send messages: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (n *TelegramNotifier) format(msg *types.Message) (string, string) {
	switch n.config.Format {
	case "html":
		return fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(msg.Title), html.EscapeString(msg.Body)), "HTML"
	case "markdown":
		return fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body), "Markdown"
	default:
		return msg.Title + "\n" + msg.Body, ""
	}
}

// sendMessage sends a message to a specific chat ID
func (n *TelegramNotifier) sendMessage(ctx context.Context, chatID, text, mode string) error {
	payload, err := json.Marshal(TelegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: mode,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.config.APIURL, "/"), n.config.BotToken)
	status, body, err := postJSON(ctx, n.client, n.logger, url, payload, nil)
	if err != nil {
		return err
	}

	if status == http.StatusTooManyRequests {
		var rateLimitResp struct {
			Parameters struct {
				RetryAfter int `json:"retry_after"`
			} `json:"parameters"`
		}
		if err := json.Unmarshal(body, &rateLimitResp); err == nil && rateLimitResp.Parameters.RetryAfter > 0 {
			return fmt.Errorf("rate limited, retry after %ds", rateLimitResp.Parameters.RetryAfter)
		}
		return fmt.Errorf("rate limit exceeded")
	}

	if status != http.StatusOK {
		var errorResp struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal(body, &errorResp); err != nil || errorResp.Description == "" {
			return fmt.Errorf("telegram api error: status code %d", status)
		}
		return fmt.Errorf("telegram api error: %s", errorResp.Description)
	}
	return nil
}
