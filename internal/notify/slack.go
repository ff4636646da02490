package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ipwatch/internal/types"

	"go.uber.org/zap"
)

// SlackNotifier represents Slack notifier
type SlackNotifier struct {
	config *SlackConfig
	logger *zap.Logger
	client *http.Client
}

// SlackMessage represents Slack message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer"`
	Timestamp int64        `json:"ts"`
}

// SlackField represents Slack field
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates new SlackNotifier
func NewSlackNotifier(cfg *SlackConfig, client *http.Client, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		config: cfg,
		logger: logger,
		client: client,
	}
}

// Type implements Notifier
func (n *SlackNotifier) Type() NotifierType { return NotifierSlack }

// Send implements Notifier
func (n *SlackNotifier) Send(ctx context.Context, msg *types.Message) error {
	att := SlackAttachment{
		Color:     "#439FE0",
		Title:     msg.Title,
		Text:      msg.Body,
		Footer:    "ipwatch",
		Timestamp: msg.SentAt.Unix(),
	}
	if c := msg.Change; c != nil {
		att.Fields = []SlackField{
			{Title: "Previous", Value: c.OldIP, Short: true},
			{Title: "Current", Value: c.NewIP, Short: true},
		}
		if c.CountryCode != "" {
			att.Fields = append(att.Fields, SlackField{Title: "Country", Value: c.CountryCode, Short: true})
		}
		if c.ISP != "" {
			att.Fields = append(att.Fields, SlackField{Title: "ISP", Value: c.ISP, Short: true})
		}
	}

	payload, err := json.Marshal(SlackMessage{
		Channel:     n.config.Channel,
		Username:    n.config.Username,
		IconEmoji:   n.config.IconEmoji,
		Attachments: []SlackAttachment{att},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	status, _, err := postJSON(ctx, n.client, n.logger, n.config.WebhookURL, payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack api error: status code %d", status)
	}
	return nil
}
