package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ipwatch/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookNotifier represents webhook notifier
type WebhookNotifier struct {
	config *WebhookConfig
	logger *zap.Logger
	client *http.Client
}

// WebhookPayload represents the webhook payload structure
type WebhookPayload struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewWebhookNotifier creates new webhook notifier
func NewWebhookNotifier(cfg *WebhookConfig, client *http.Client, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		config: cfg,
		logger: logger,
		client: client,
	}
}

// Type implements Notifier
func (n *WebhookNotifier) Type() NotifierType { return NotifierWebhook }

// Send implements Notifier
func (n *WebhookNotifier) Send(ctx context.Context, msg *types.Message) error {
	data := map[string]any{
		"title": msg.Title,
		"body":  msg.Body,
	}
	if msg.Change != nil {
		data["old_ip"] = msg.Change.OldIP
		data["new_ip"] = msg.Change.NewIP
		data["country_code"] = msg.Change.CountryCode
		data["isp"] = msg.Change.ISP
	}
	// Add common data from config
	for k, v := range n.config.CommonData {
		data[k] = v
	}

	payload := WebhookPayload{
		EventType: "ip.change",
		EventID:   uuid.NewString(),
		Timestamp: msg.SentAt,
		Data:      data,
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	headers := map[string]string{
		"X-Ipwatch-Event":    payload.EventType,
		"X-Ipwatch-Delivery": payload.EventID,
	}
	if n.config.Secret != "" {
		headers["X-Ipwatch-Signature"] = calculateSignature(body, []byte(n.config.Secret))
	}
	for k, v := range n.config.Headers {
		headers[k] = v
	}

	status, _, err := postJSON(ctx, n.client, n.logger, n.config.URL, body, headers)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("webhook request failed with status %d", status)
	}
	return nil
}

// calculateSignature calculates the HMAC-SHA256 signature of payload
func calculateSignature(payload []byte, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
