// Package provider normalizes the address discovery, geolocation and ASN upstreams
// into one null-safe lookup result.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"ipwatch/internal/httpclient"
	"ipwatch/internal/metrics"
	"ipwatch/internal/types"

	"go.uber.org/zap"
)

const (
	DefaultAddressURL   = "https://ipv4.icanhazip.com"
	DefaultAddressURLv6 = "https://ipv6.icanhazip.com"
	DefaultGeoURL       = "https://www.iplocation.net/get-ipdata"
	DefaultASNURL       = "https://thisipcan.cyou/"
	DefaultSource       = "ip2location"
	DefaultRateLimit    = 2.0
	DefaultRateBurst    = 3
)

// Config represents provider configuration
type Config struct {
	AddressURL string `mapstructure:"address_url" validate:"omitempty,url"`
	GeoURL     string `mapstructure:"geo_url" validate:"omitempty,url"`
	ASNURL     string `mapstructure:"asn_url" validate:"omitempty,url"`
	Source     string `mapstructure:"source"`
	IPVersion  int    `mapstructure:"ip_version" validate:"omitempty,oneof=4 6"`
	UserAgent  string `mapstructure:"user_agent"`
	// RateLimit is requests per second per upstream host; zero disables it
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"gte=0"`
	// MaxMind databases for the optional offline geolocation fallback
	MMDBCityPath string `mapstructure:"mmdb_city_path"`
	MMDBASNPath  string `mapstructure:"mmdb_asn_path"`
}

// SetDefaults fills unset fields
func (cfg *Config) SetDefaults() {
	if cfg.IPVersion == 0 {
		cfg.IPVersion = 4
	}
	if cfg.AddressURL == "" {
		if cfg.IPVersion == 6 {
			cfg.AddressURL = DefaultAddressURLv6
		} else {
			cfg.AddressURL = DefaultAddressURL
		}
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = DefaultGeoURL
	}
	if cfg.ASNURL == "" {
		cfg.ASNURL = DefaultASNURL
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
}

// ClientConfig returns the HTTP client settings for the upstreams
func (cfg Config) ClientConfig() httpclient.Config {
	return httpclient.Config{
		UserAgent: cfg.UserAgent,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.RateBurst,
	}
}

// GeoFallback resolves geolocation locally when the remote provider fails
type GeoFallback interface {
	Lookup(ip string) (*types.GeoRecord, error)
}

// Provider fetches and normalizes lookup data
type Provider struct {
	config   Config
	fetcher  httpclient.Fetcher
	fallback GeoFallback
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option configures a Provider
type Option func(*Provider)

// WithFallback sets an offline geolocation fallback
func WithFallback(f GeoFallback) Option {
	return func(p *Provider) { p.fallback = f }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// New creates new provider
func New(cfg Config, fetcher httpclient.Fetcher, logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.SetDefaults()

	p := &Provider{
		config:  cfg,
		fetcher: fetcher,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchAll performs address discovery, geolocation and ASN lookup in sequence.
// Each call is bounded by timeout. Failures yield empty or nil fields and never an error.
func (p *Provider) FetchAll(ctx context.Context, timeout time.Duration) types.LookupResult {
	addr := p.FetchAddress(ctx, timeout)

	// Geolocation is attempted even without an address; the upstream
	// may infer the caller's address server-side.
	geo := p.FetchGeo(ctx, addr.IP, timeout)
	if geo == nil && p.fallback != nil && addr.IP != "" {
		if rec, err := p.fallback.Lookup(addr.IP); err != nil {
			p.logger.Debug("Offline geolocation fallback failed", zap.String("ip", addr.IP), zap.Error(err))
		} else {
			geo = rec
		}
	}

	asn, err := p.FetchASN(ctx, timeout)
	if err != nil {
		p.logger.Debug("ASN lookup failed", zap.Error(err))
	}

	return types.LookupResult{IP: addr.IP, Geo: geo, ASN: asn}
}

// FetchAddress discovers the external address. An invalid or failed
// response yields an empty address.
func (p *Provider) FetchAddress(ctx context.Context, timeout time.Duration) types.AddressRecord {
	body, err := p.fetch(ctx, "address", httpclient.Request{
		URL:      p.config.AddressURL,
		Header:   map[string]string{"Accept": "text/plain"},
		Timeout:  timeout,
		MaxBytes: 64,
	})
	if err != nil {
		p.logger.Warn("Address discovery failed", zap.Error(err))
		return types.AddressRecord{}
	}

	ip := clean(string(body))
	if net.ParseIP(ip) == nil {
		p.logger.Warn("Address discovery returned invalid IP", zap.String("body", ip))
		return types.AddressRecord{}
	}
	return types.AddressRecord{IP: ip}
}

// FetchGeo queries the geolocation upstream for ip
func (p *Provider) FetchGeo(ctx context.Context, ip string, timeout time.Duration) *types.GeoRecord {
	form := url.Values{
		"ip":     {ip},
		"source": {p.config.Source},
		"ipv":    {strconv.Itoa(p.config.IPVersion)},
	}
	body, err := p.fetch(ctx, "geo", httpclient.Request{
		Method:  "POST",
		URL:     p.config.GeoURL,
		Form:    form,
		Timeout: timeout,
	})
	if err != nil {
		p.logger.Warn("Geolocation lookup failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}

	geo, err := parseGeo(body, ip, p.config.Source)
	if err != nil {
		p.logger.Warn("Geolocation response malformed", zap.Error(err))
		return nil
	}
	return geo
}

// FetchASN queries the ASN/organization upstream
func (p *Provider) FetchASN(ctx context.Context, timeout time.Duration) (*types.AsnRecord, error) {
	body, err := p.fetch(ctx, "asn", httpclient.Request{
		URL:     p.config.ASNURL,
		Header:  map[string]string{"Accept": "application/json"},
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return parseASN(body)
}

func (p *Provider) fetch(ctx context.Context, source string, req httpclient.Request) ([]byte, error) {
	start := time.Now()
	body, err := p.fetcher.Fetch(ctx, req)
	p.metrics.RecordUpstream(source, time.Since(start), err)
	return body, err
}

type geoResponse struct {
	Source string         `json:"source"`
	Res    map[string]any `json:"res"`
}

// parseGeo normalizes the geolocation body. Text fields must be JSON strings,
// coordinates must be JSON numbers; anything else becomes nil.
func parseGeo(body []byte, ip, defaultSource string) (*types.GeoRecord, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty geolocation body", types.ErrParse)
	}

	var resp *geoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrParse, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: geolocation body is not an object", types.ErrParse)
	}

	r := resp.Res
	addr := text(r, "ipAddress")
	if addr == nil {
		addr = types.StringPtr(clean(ip))
	}

	source := clean(resp.Source)
	if source == "" {
		source = defaultSource
	}

	return &types.GeoRecord{
		IPAddress:      types.Deref(addr),
		CountryCode:    text(r, "countryCode"),
		CountryName:    text(r, "countryName"),
		CityName:       text(r, "cityName"),
		RegionName:     text(r, "regionName"),
		Latitude:       number(r, "latitude"),
		Longitude:      number(r, "longitude"),
		ISP:            text(r, "isp"),
		ProviderSource: source,
	}, nil
}

type asnResponse struct {
	Hostname any `json:"hostname"`
	Org      any `json:"org"`
	Timezone any `json:"timezone"`
}

func parseASN(body []byte) (*types.AsnRecord, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty ASN body", types.ErrParse)
	}

	var resp *asnResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrParse, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: ASN body is not an object", types.ErrParse)
	}

	return &types.AsnRecord{
		Hostname: textValue(resp.Hostname),
		Org:      textValue(resp.Org),
		Timezone: textValue(resp.Timezone),
	}, nil
}
