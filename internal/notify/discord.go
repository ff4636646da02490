package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ipwatch/internal/types"

	"go.uber.org/zap"
)

// DiscordNotifier represents Discord notifier
type DiscordNotifier struct {
	config *DiscordConfig
	logger *zap.Logger
	client *http.Client
}

// DiscordMessage represents Discord webhook message
type DiscordMessage struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Content   string         `json:"content,omitempty"`
	Embeds    []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents Discord embed
type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

// DiscordField represents Discord embed field
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// NewDiscordNotifier creates new Discord notifier
func NewDiscordNotifier(cfg *DiscordConfig, client *http.Client, logger *zap.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		config: cfg,
		logger: logger,
		client: client,
	}
}

// Type implements Notifier
func (n *DiscordNotifier) Type() NotifierType { return NotifierDiscord }

// Send implements Notifier
func (n *DiscordNotifier) Send(ctx context.Context, msg *types.Message) error {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	embed := DiscordEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       0x3498db,
		Timestamp:   sentAt.UTC().Format(time.RFC3339),
	}
	if c := msg.Change; c != nil {
		embed.Fields = []DiscordField{
			{Name: "Previous", Value: c.OldIP, Inline: true},
			{Name: "Current", Value: c.NewIP, Inline: true},
		}
	}

	payload, err := json.Marshal(DiscordMessage{
		Username:  n.config.Username,
		AvatarURL: n.config.AvatarURL,
		Embeds:    []DiscordEmbed{embed},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal discord message: %w", err)
	}

	status, _, err := postJSON(ctx, n.client, n.logger, n.config.WebhookURL, payload, nil)
	if err != nil {
		return err
	}
	// Discord answers 204 unless ?wait=true is set
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("discord api error: status code %d", status)
	}
	return nil
}
