package provider

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"ipwatch/internal/httpclient"
	"ipwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubResponse struct {
	body string
	err  error
}

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	requests  []httpclient.Request
}

func (s *stubFetcher) Fetch(_ context.Context, req httpclient.Request) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	r, ok := s.responses[req.URL]
	if !ok {
		return nil, errors.New("unexpected url " + req.URL)
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func newTestProvider(t *testing.T, responses map[string]stubResponse, opts ...Option) (*Provider, *stubFetcher) {
	f := &stubFetcher{responses: responses}
	return New(Config{}, f, zaptest.NewLogger(t), opts...), f
}

func TestFetchAll(t *testing.T) {
	p, f := newTestProvider(t, map[string]stubResponse{
		DefaultAddressURL: {body: " 203.0.113.7\n"},
		DefaultGeoURL: {body: `{"source":"ip2location","res":{"ipAddress":"203.0.113.7",
			"countryCode":" DE ","countryName":"Germany","cityName":"Berlin","regionName":"Berlin",
			"latitude":52.52,"longitude":13.405,"isp":"Example ISP"}}`},
		DefaultASNURL: {body: `{"hostname":"host.example","org":"AS64500 Example","timezone":"Europe/Berlin"}`},
	})

	res := p.FetchAll(context.Background(), time.Second)
	require.NotNil(t, res.Geo)
	require.NotNil(t, res.ASN)

	assert.Equal(t, "203.0.113.7", res.IP)
	assert.Equal(t, "DE", types.Deref(res.Geo.CountryCode))
	assert.Equal(t, "Berlin", types.Deref(res.Geo.CityName))
	assert.InDelta(t, 52.52, *res.Geo.Latitude, 1e-9)
	assert.Equal(t, "ip2location", res.Geo.ProviderSource)
	assert.Equal(t, "AS64500 Example", types.Deref(res.ASN.Org))

	require.Len(t, f.requests, 3)
	geoReq := f.requests[1]
	assert.Equal(t, "POST", geoReq.Method)
	assert.Equal(t, url.Values{"ip": {"203.0.113.7"}, "source": {"ip2location"}, "ipv": {"4"}}, geoReq.Form)
	for _, r := range f.requests {
		assert.Equal(t, time.Second, r.Timeout)
	}
}

func TestFetchAllFailuresYieldNulls(t *testing.T) {
	p, _ := newTestProvider(t, map[string]stubResponse{
		DefaultAddressURL: {err: types.ErrTransport},
		DefaultGeoURL:     {body: "<html>not json</html>"},
		DefaultASNURL:     {err: types.ErrTransport},
	})

	res := p.FetchAll(context.Background(), time.Second)
	assert.Empty(t, res.IP)
	assert.Nil(t, res.Geo)
	assert.Nil(t, res.ASN)
	assert.False(t, res.Usable())
}

func TestFetchAllNullGeoIsUnusable(t *testing.T) {
	p, _ := newTestProvider(t, map[string]stubResponse{
		DefaultAddressURL: {body: "203.0.113.7"},
		DefaultGeoURL:     {body: "null"},
		DefaultASNURL:     {body: "null"},
	})

	res := p.FetchAll(context.Background(), time.Second)
	assert.Equal(t, "203.0.113.7", res.IP)
	assert.Nil(t, res.Geo)
	assert.Nil(t, res.ASN)
	assert.False(t, res.Usable())
}

func TestFetchAddressRejectsInvalidIP(t *testing.T) {
	p, _ := newTestProvider(t, map[string]stubResponse{
		DefaultAddressURL: {body: "rate limited"},
	})
	assert.Empty(t, p.FetchAddress(context.Background(), time.Second).IP)
}

func TestParseGeo(t *testing.T) {
	t.Run("non-numeric coordinates are dropped", func(t *testing.T) {
		geo, err := parseGeo([]byte(`{"res":{"latitude":"52.5","longitude":null,"countryCode":7}}`), "198.51.100.1", "ip2location")
		require.NoError(t, err)
		assert.Nil(t, geo.Latitude)
		assert.Nil(t, geo.Longitude)
		assert.Nil(t, geo.CountryCode)
		assert.False(t, geo.HasCoordinates())
	})

	t.Run("address and source fall back", func(t *testing.T) {
		geo, err := parseGeo([]byte(`{"res":{}}`), " 198.51.100.1 ", "ip2location")
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.1", geo.IPAddress)
		assert.Equal(t, "ip2location", geo.ProviderSource)
	})

	t.Run("blank strings become nil", func(t *testing.T) {
		geo, err := parseGeo([]byte(`{"res":{"cityName":"   ","isp":""}}`), "198.51.100.1", "x")
		require.NoError(t, err)
		assert.Nil(t, geo.CityName)
		assert.Nil(t, geo.ISP)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := parseGeo(nil, "198.51.100.1", "x")
		assert.ErrorIs(t, err, types.ErrParse)
	})

	t.Run("top level is not an object", func(t *testing.T) {
		for _, body := range []string{"null", " null\n", "[]", `"x"`} {
			geo, err := parseGeo([]byte(body), "203.0.113.7", "ip2location")
			assert.ErrorIs(t, err, types.ErrParse, body)
			assert.Nil(t, geo, body)
		}
	})
}

func TestNormalizeIsStable(t *testing.T) {
	body := []byte(`{"source":" ip2location ","res":{"ipAddress":" 203.0.113.7 ","countryCode":"DE",
		"cityName":"München","latitude":48.137,"longitude":11.575}}`)

	first, err := parseGeo(body, "203.0.113.7", "ip2location")
	require.NoError(t, err)
	second, err := parseGeo(body, first.IPAddress, first.ProviderSource)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "München", types.Deref(first.CityName))
}

func TestParseASN(t *testing.T) {
	asn, err := parseASN([]byte(`{"hostname":null,"org":" AS64500 Example ","timezone":3}`))
	require.NoError(t, err)
	assert.Nil(t, asn.Hostname)
	assert.Equal(t, "AS64500 Example", types.Deref(asn.Org))
	assert.Nil(t, asn.Timezone)

	_, err = parseASN([]byte("{"))
	assert.ErrorIs(t, err, types.ErrParse)

	asn, err = parseASN([]byte("null"))
	assert.ErrorIs(t, err, types.ErrParse)
	assert.Nil(t, asn)
}

type stubFallback struct {
	geo *types.GeoRecord
}

func (s stubFallback) Lookup(string) (*types.GeoRecord, error) { return s.geo, nil }

func TestFetchAllUsesFallback(t *testing.T) {
	country := "NL"
	p, _ := newTestProvider(t, map[string]stubResponse{
		DefaultAddressURL: {body: "203.0.113.7"},
		DefaultGeoURL:     {err: types.ErrTransport},
		DefaultASNURL:     {body: `{}`},
	}, WithFallback(stubFallback{geo: &types.GeoRecord{IPAddress: "203.0.113.7", CountryCode: &country, ProviderSource: geoIPSource}}))

	res := p.FetchAll(context.Background(), time.Second)
	require.NotNil(t, res.Geo)
	assert.Equal(t, geoIPSource, res.Geo.ProviderSource)
	assert.Equal(t, "NL", res.Geo.Country())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{IPVersion: 6}
	cfg.SetDefaults()
	assert.Equal(t, DefaultAddressURLv6, cfg.AddressURL)
	assert.Equal(t, DefaultSource, cfg.Source)
}
