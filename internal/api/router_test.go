package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ipwatch/internal/app"
	"ipwatch/internal/metrics"
	"ipwatch/internal/refresh"
	"ipwatch/internal/types"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeService struct {
	mu       sync.Mutex
	subs     []func(app.Event)
	subbed   chan struct{}
	outcome  refresh.Outcome
	presence []types.PresenceStatus
	network  []bool
	idle     bool
	disabled bool
}

func (f *fakeService) State() types.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.State{CurrentIP: "203.0.113.7", Generation: 2, Disabled: f.disabled}
}

func (f *fakeService) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = false
}

func (f *fakeService) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = true
}

func (f *fakeService) Status() app.Status {
	return app.Status{IP: "203.0.113.7", CountryCode: "NO"}
}

func (f *fakeService) Details(context.Context) app.Details {
	return app.Details{IP: "203.0.113.7", NetworkLabel: app.NetworkInfoUnavailable}
}

func (f *fakeService) Refresh(context.Context) refresh.Outcome { return f.outcome }

func (f *fakeService) SetPresence(s types.PresenceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, s)
	f.idle = s == types.PresenceIdle
}

func (f *fakeService) SetNetwork(available bool, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.network = append(f.network, available)
}

func (f *fakeService) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *fakeService) Interfaces() []types.InterfaceInfo { return nil }

func (f *fakeService) Subscribe(fn func(app.Event)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	if f.subbed != nil {
		close(f.subbed)
	}
	return func() {}
}

func (f *fakeService) emit(ev app.Event) {
	f.mu.Lock()
	subs := append([]func(app.Event){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

type envelope struct {
	Code      int             `json:"code"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	RequestID string          `json:"request_id"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func newTestRouter(t *testing.T, svc *fakeService) http.Handler {
	reg := prometheus.NewRegistry()
	metrics.New(reg).RecordRefresh("applied")
	return NewRouter(svc, reg, zaptest.NewLogger(t), false).Handler()
}

func TestGetState(t *testing.T) {
	h := newTestRouter(t, &fakeService{})

	rec, env := do(t, h, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	var view struct {
		State  types.State `json:"state"`
		Status app.Status  `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "203.0.113.7", view.State.CurrentIP)
	assert.Equal(t, "NO", view.Status.CountryCode)
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestRouter(t, &fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestGetDetails(t *testing.T) {
	h := newTestRouter(t, &fakeService{})

	rec, env := do(t, h, http.MethodGet, "/api/v1/details", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var d app.Details
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, "Failed to load network info", d.NetworkLabel)
}

func TestPostRefresh(t *testing.T) {
	svc := &fakeService{outcome: refresh.Applied}
	h := newTestRouter(t, svc)

	rec, env := do(t, h, http.MethodPost, "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"outcome":"applied"`)

	svc.outcome = refresh.SkippedThrottled
	rec, env = do(t, h, http.MethodPost, "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"outcome":"skipped_throttled"`)

	svc.outcome = refresh.Failed
	rec, env = do(t, h, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, env.Error, "refresh failed")
}

func TestPostEnableDisable(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(t, svc)

	rec, env := do(t, h, http.MethodPost, "/api/v1/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disabled":true}`, string(env.Data))
	assert.True(t, svc.State().Disabled)

	rec, env = do(t, h, http.MethodPost, "/api/v1/enable", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"disabled":false}`, string(env.Data))
	assert.False(t, svc.State().Disabled)
}

func TestPostPresence(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(t, svc)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/presence", `{"status":"idle"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []types.PresenceStatus{types.PresenceIdle}, svc.presence)

	rec, env := do(t, h, http.MethodPost, "/api/v1/presence", `{"status":"asleep"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "invalid presence")
	assert.Len(t, svc.presence, 1)
}

func TestPostNetwork(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(t, svc)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/network", `{"available":false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/network", `{"available":true,"source":"nm"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []bool{false, true}, svc.network)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/network", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndInterfaces(t *testing.T) {
	h := newTestRouter(t, &fakeService{})

	rec, env := do(t, h, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)

	rec, env = do(t, h, http.MethodGet, "/api/v1/interfaces", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, &fakeService{})

	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ipwatch_refresh_total{outcome="applied"} 1`)
}

func TestEventsStream(t *testing.T) {
	svc := &fakeService{subbed: make(chan struct{})}
	srv := httptest.NewServer(newTestRouter(t, svc))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	select {
	case <-svc.subbed:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never subscribed")
	}

	svc.emit(app.Event{Type: app.EventChange, Change: &types.IPChange{OldIP: "203.0.113.7", NewIP: "198.51.100.4"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev app.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "change", ev.Type)
	require.NotNil(t, ev.Change)
	assert.Equal(t, "198.51.100.4", ev.Change.NewIP)
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewRouter(&fakeService{}, nil, zaptest.NewLogger(t), false), zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop(context.Background()))
}
