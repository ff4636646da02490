package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ipwatch/internal/retry"
	"ipwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeNotifier struct {
	mu       sync.Mutex
	typ      NotifierType
	failures int
	messages []*types.Message
	attempts int
}

func (f *fakeNotifier) Type() NotifierType { return f.typ }

func (f *fakeNotifier) Send(_ context.Context, msg *types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("temporarily unavailable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	changes []types.IPChange
	closed  bool
}

func (f *fakePublisher) Type() NotifierType { return NotifierKafka }

func (f *fakePublisher) Publish(_ context.Context, c *types.IPChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, *c)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestManagerNotify(t *testing.T) {
	n := &fakeNotifier{typ: NotifierSlack}
	m := NewManager(Config{}, zaptest.NewLogger(t), WithNotifier(n))

	assert.True(t, m.IsNotifierEnabled(NotifierLog))
	assert.True(t, m.IsNotifierEnabled(NotifierSlack))
	assert.Equal(t, []string{"log", "slack"}, m.Channels())

	m.Notify("External IP Address", "Has been changed to 198.51.100.4")
	require.NoError(t, m.Stop())

	require.Len(t, n.messages, 1)
	assert.Equal(t, "External IP Address", n.messages[0].Title)
	assert.Equal(t, "Has been changed to 198.51.100.4", n.messages[0].Body)
}

func TestManagerPublish(t *testing.T) {
	p := &fakePublisher{}
	m := NewManager(Config{}, zaptest.NewLogger(t), WithPublisher(p))

	m.Publish(types.IPChange{OldIP: "203.0.113.7", NewIP: "198.51.100.4", Suppressed: true})
	require.NoError(t, m.Stop())

	require.Len(t, p.changes, 1)
	assert.True(t, p.changes[0].Suppressed)
	assert.True(t, p.closed)
}

func TestManagerRetries(t *testing.T) {
	n := &fakeNotifier{typ: NotifierWebhook, failures: 2}
	cfg := Config{Retry: retry.Config{
		Enable:          true,
		InitialAttempts: 3,
		InitialInterval: time.Millisecond,
	}}
	m := NewManager(cfg, zaptest.NewLogger(t), WithNotifier(n))

	m.Notify("title", "body")
	require.NoError(t, m.Stop())

	assert.Equal(t, 3, n.attempts)
	assert.Len(t, n.messages, 1)
}

func TestManagerRateLimit(t *testing.T) {
	n := &fakeNotifier{typ: NotifierTelegram}
	cfg := Config{RateLimit: RateLimitConfig{Enabled: true, Interval: time.Hour, MaxEvents: 2}}
	m := NewManager(cfg, zaptest.NewLogger(t), WithNotifier(n))

	for i := 0; i < 5; i++ {
		m.Notify("title", "body")
	}
	require.NoError(t, m.Stop())
	assert.Len(t, n.messages, 2)
}

func TestManagerStoppedDropsNotifications(t *testing.T) {
	n := &fakeNotifier{typ: NotifierSlack}
	m := NewManager(Config{}, zaptest.NewLogger(t), WithNotifier(n))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	m.Notify("late", "message")
	assert.Empty(t, n.messages)
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	r := NewRateLimiter(time.Minute, 2)
	r.now = func() time.Time { return now }

	assert.True(t, r.AllowNotification(NotifierSlack))
	assert.True(t, r.AllowNotification(NotifierSlack))
	assert.False(t, r.AllowNotification(NotifierSlack))
	assert.True(t, r.AllowNotification(NotifierDiscord))

	now = now.Add(time.Minute)
	assert.True(t, r.AllowNotification(NotifierSlack))

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.AllowNotification(NotifierSlack))
}

func TestWebhookNotifier(t *testing.T) {
	var got WebhookPayload
	var signature string
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-Ipwatch-Signature")
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&WebhookConfig{
		URL:        srv.URL,
		Secret:     "s3cret",
		CommonData: map[string]any{"host": "laptop"},
	}, srv.Client(), zaptest.NewLogger(t))

	err := n.Send(context.Background(), &types.Message{
		Title:  "External IP Address",
		Body:   "Has been changed to 198.51.100.4",
		Change: &types.IPChange{OldIP: "203.0.113.7", NewIP: "198.51.100.4"},
		SentAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, "ip.change", got.EventType)
	assert.NotEmpty(t, got.EventID)
	assert.Equal(t, "198.51.100.4", got.Data["new_ip"])
	assert.Equal(t, "laptop", got.Data["host"])
	assert.Equal(t, calculateSignature(raw, []byte("s3cret")), signature)
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&WebhookConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))
	assert.Error(t, n.Send(context.Background(), &types.Message{Title: "t"}))
}

func TestTelegramNotifier(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var msgs []TelegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m TelegramMessage
		_ = json.NewDecoder(r.Body).Decode(&m)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		msgs = append(msgs, m)
		mu.Unlock()
		if m.ChatID == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	_, err := NewTelegramNotifier(&TelegramConfig{}, srv.Client(), zaptest.NewLogger(t))
	assert.Error(t, err)

	n, err := NewTelegramNotifier(&TelegramConfig{
		BotToken: "123:abc",
		ChatIDs:  []string{"42", "bad"},
		Format:   "html",
		APIURL:   srv.URL,
	}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)

	err = n.Send(context.Background(), &types.Message{Title: "A&B", Body: "Has been changed to 198.51.100.4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	require.Len(t, msgs, 2)
	assert.Equal(t, "/bot123:abc/sendMessage", paths[0])
	assert.Equal(t, "HTML", msgs[0].ParseMode)
	assert.Equal(t, "<b>A&amp;B</b>\nHas been changed to 198.51.100.4", msgs[0].Text)
}

func TestSlackAndDiscordNotifiers(t *testing.T) {
	var slackMsg SlackMessage
	var discordMsg DiscordMessage
	mux := http.NewServeMux()
	mux.HandleFunc("/slack", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&slackMsg)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/discord", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&discordMsg)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	msg := &types.Message{
		Title:  "External IP Address",
		Body:   "Has been changed to 198.51.100.4",
		Change: &types.IPChange{OldIP: "203.0.113.7", NewIP: "198.51.100.4", CountryCode: "NL"},
		SentAt: time.Unix(1700000000, 0),
	}

	slack := NewSlackNotifier(&SlackConfig{WebhookURL: srv.URL + "/slack", Channel: "#net"}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, slack.Send(context.Background(), msg))
	assert.Equal(t, "#net", slackMsg.Channel)
	require.Len(t, slackMsg.Attachments, 1)
	assert.Len(t, slackMsg.Attachments[0].Fields, 3)
	assert.Equal(t, int64(1700000000), slackMsg.Attachments[0].Timestamp)

	discord := NewDiscordNotifier(&DiscordConfig{WebhookURL: srv.URL + "/discord"}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, discord.Send(context.Background(), msg))
	require.Len(t, discordMsg.Embeds, 1)
	assert.Equal(t, "External IP Address", discordMsg.Embeds[0].Title)
}

func TestEncodeChange(t *testing.T) {
	ev, data, err := encodeChange(&types.IPChange{OldIP: "203.0.113.7", NewIP: "198.51.100.4"})
	require.NoError(t, err)

	var decoded ChangeEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, "198.51.100.4", decoded.Change.NewIP)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true, Kafka: KafkaConfig{Enabled: true}}
	assert.Error(t, cfg.Validate())

	cfg = Config{Enabled: true, Redis: RedisConfig{Enabled: true, Addr: "localhost:6379"}}
	assert.NoError(t, cfg.Validate())

	cfg.SetDefaults()
	assert.Equal(t, "ipwatch:ip_change", cfg.Redis.Channel)
}

func TestEnabledChannelsAreRegistered(t *testing.T) {
	cfg := Config{
		Enabled:  true,
		Webhook:  WebhookConfig{Enabled: true, URL: "http://127.0.0.1:1/hook"},
		Telegram: TelegramConfig{Enabled: true},
		Redis:    RedisConfig{Enabled: true, Addr: "127.0.0.1:1"},
	}
	m := NewManager(cfg, zaptest.NewLogger(t))
	defer func() { _ = m.Stop() }()

	assert.True(t, m.IsNotifierEnabled(NotifierWebhook))
	assert.False(t, m.IsNotifierEnabled(NotifierTelegram))
	assert.True(t, m.IsNotifierEnabled(NotifierRedis))
}
