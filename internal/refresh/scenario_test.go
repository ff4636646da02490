package refresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ipwatch/internal/clock"
	"ipwatch/internal/httpclient"
	"ipwatch/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type upstream struct {
	ip       atomic.Value
	geoDelay time.Duration
}

func newUpstream(t *testing.T, ip string) (*upstream, *httptest.Server) {
	u := &upstream{}
	u.ip.Store(ip)

	mux := http.NewServeMux()
	mux.HandleFunc("/ip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(u.ip.Load().(string) + "\n"))
	})
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		if u.geoDelay > 0 {
			select {
			case <-time.After(u.geoDelay):
			case <-r.Context().Done():
				return
			}
		}
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"source":"ip2location","res":{"ipAddress":"` + r.PostForm.Get("ip") + `",
			"countryCode":"GB","countryName":"United Kingdom","cityName":"London",
			"latitude":51.5074,"longitude":-0.1278,"isp":"Example ISP"}}`))
	})
	mux.HandleFunc("/asn", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"org":"Example Org"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return u, srv
}

func newScenario(t *testing.T, srv *httptest.Server, clk *clock.Fake, rec *recorder, timeout time.Duration) *Orchestrator {
	p := provider.New(provider.Config{
		AddressURL: srv.URL + "/ip",
		GeoURL:     srv.URL + "/geo",
		ASNURL:     srv.URL + "/asn",
	}, httpclient.NewWithHTTPClient(srv.Client(), zaptest.NewLogger(t)), zaptest.NewLogger(t))

	opts := append([]Option{WithClock(clk)}, rec.options()...)
	return New(Config{MinInterval: DefaultMinInterval, FetchTimeout: timeout}, p, zaptest.NewLogger(t), opts...)
}

func TestScenarioFirstLookup(t *testing.T) {
	_, srv := newUpstream(t, "203.0.113.7")
	rec := &recorder{}
	o := newScenario(t, srv, clock.NewFake(epoch), rec, time.Second)

	require.Equal(t, Applied, o.Refresh(context.Background()))

	state := o.State()
	assert.Equal(t, "203.0.113.7", state.CurrentIP)
	require.NotNil(t, state.LastLookup.ASN)
	assert.Equal(t, "Example Org", *state.LastLookup.ASN.Org)
	assert.Equal(t, []string{"203.0.113.7|GB|Example ISP"}, rec.displays)
	assert.Empty(t, rec.notes)
}

func TestScenarioChangeDuringSuppression(t *testing.T) {
	u, srv := newUpstream(t, "203.0.113.7")
	clk := clock.NewFake(epoch)
	rec := &recorder{}
	o := newScenario(t, srv, clk, rec, time.Second)

	require.Equal(t, Applied, o.Refresh(context.Background()))

	clk.Advance(time.Minute)
	o.Suppress(15 * time.Second)
	u.ip.Store("198.51.100.4")
	clk.Advance(4*time.Second + time.Millisecond)

	require.Equal(t, Applied, o.Refresh(context.Background()))
	assert.Equal(t, "198.51.100.4", o.State().CurrentIP)
	assert.Empty(t, rec.notes)
}

func TestScenarioGeoTimeout(t *testing.T) {
	u, srv := newUpstream(t, "203.0.113.7")
	u.geoDelay = 2 * time.Second
	rec := &recorder{}
	o := newScenario(t, srv, clock.NewFake(epoch), rec, 50*time.Millisecond)

	assert.Equal(t, Failed, o.Refresh(context.Background()))

	state := o.State()
	assert.Empty(t, state.CurrentIP)
	assert.Nil(t, state.Location)
	assert.Empty(t, rec.notes)
	assert.Empty(t, rec.displays)
}
