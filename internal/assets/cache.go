// Package assets implements the write-once disk cache for country flags and
// static map tiles.
package assets

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ipwatch/internal/httpclient"
	"ipwatch/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	KindFlag = "flag"
	KindMap  = "map"

	DefaultFlagURL    = "https://thisipcan.cyou/flag-{cc}"
	DefaultMapURL     = "https://staticmap.thisipcan.cyou/"
	DefaultPrecision  = 5
	DefaultMapTimeout = 6 * time.Second

	flagsDir = "flags"
	mapsDir  = "maps"
)

//go:embed ip.svg
var placeholderIcon []byte

// Config represents asset cache configuration
type Config struct {
	Dir          string        `mapstructure:"dir" validate:"required"`
	FlagURL      string        `mapstructure:"flag_url" validate:"omitempty,url_template"`
	MapURL       string        `mapstructure:"map_url" validate:"omitempty,url"`
	MapTimeout   time.Duration `mapstructure:"map_timeout"`
	Precision    int           `mapstructure:"precision" validate:"gte=0,lte=10"`
	RateLimit    float64       `mapstructure:"rate_limit" validate:"gte=0"`
	FallbackIcon string        `mapstructure:"fallback_icon"`
}

// SetDefaults fills unset fields
func (cfg *Config) SetDefaults() {
	if cfg.FlagURL == "" {
		cfg.FlagURL = DefaultFlagURL
	}
	if cfg.MapURL == "" {
		cfg.MapURL = DefaultMapURL
	}
	if cfg.MapTimeout <= 0 {
		cfg.MapTimeout = DefaultMapTimeout
	}
	if cfg.Precision < 0 {
		cfg.Precision = DefaultPrecision
	}
}

// UpdateFunc is invoked after a background download lands on disk
type UpdateFunc func(kind, key, path string)

// Cache is a content-addressed disk cache. Entries are never re-fetched once
// present and never evicted.
type Cache struct {
	config   Config
	fetcher  httpclient.Fetcher
	group    singleflight.Group
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	fallback string

	mu       sync.RWMutex
	onUpdate UpdateFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Cache
type Option func(*Cache)

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates new asset cache
func New(cfg Config, fetcher httpclient.Fetcher, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		config:  cfg,
		fetcher: fetcher,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.fallback = cfg.FallbackIcon
	if c.fallback == "" {
		c.fallback = c.installPlaceholder()
	}
	return c
}

// OnUpdate registers the callback invoked when a background flag download completes
func (c *Cache) OnUpdate(fn UpdateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// Precision returns the number of decimals used for map keys
func (c *Cache) Precision() int {
	return c.config.Precision
}

// FallbackPath returns the placeholder icon path
func (c *Cache) FallbackPath() string {
	return c.fallback
}

// FlagPath returns the cached flag for countryCode. On a miss it returns the
// fallback path immediately and downloads the flag in the background.
func (c *Cache) FlagPath(countryCode string) string {
	cc, ok := normalizeCountry(countryCode)
	if !ok {
		return c.fallback
	}

	path := filepath.Join(c.config.Dir, flagsDir, cc+".svg")
	if exists(path) {
		c.metrics.RecordAsset(KindFlag, "hit")
		return path
	}
	c.metrics.RecordAsset(KindFlag, "miss")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fetchFlag(cc, path)
	}()

	return c.fallback
}

func (c *Cache) fetchFlag(cc, path string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in flag download", zap.String("country", cc), zap.Any("panic", r))
		}
	}()

	v, err, shared := c.group.Do(KindFlag+":"+cc, func() (any, error) {
		// Another download may have landed between the miss and this call.
		if exists(path) {
			return false, nil
		}
		data, err := c.download(c.ctx, flagURL(c.config.FlagURL, cc), 0)
		if err != nil {
			return false, err
		}
		if err := c.write(path, data); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		c.metrics.RecordAsset(KindFlag, "error")
		c.logger.Warn("Failed to download flag", zap.String("country", cc), zap.Error(err))
		return
	}
	if shared || !v.(bool) {
		return
	}

	c.logger.Debug("Flag cached", zap.String("country", cc), zap.String("path", path))
	c.mu.RLock()
	fn := c.onUpdate
	c.mu.RUnlock()
	if fn != nil {
		fn(KindFlag, cc, path)
	}
}

// MapPath returns the cached map tile for the coordinates, downloading it
// synchronously on a miss. It reports false when no tile is available.
func (c *Cache) MapPath(ctx context.Context, lat, lon float64) (string, bool) {
	latKey, ok := NormalizeCoord(lat, c.config.Precision)
	if !ok {
		return "", false
	}
	lonKey, ok := NormalizeCoord(lon, c.config.Precision)
	if !ok {
		return "", false
	}

	key := latKey + "_" + lonKey
	path := filepath.Join(c.config.Dir, mapsDir, key+".svg")
	if exists(path) {
		c.metrics.RecordAsset(KindMap, "hit")
		return path, true
	}
	c.metrics.RecordAsset(KindMap, "miss")

	_, err, _ := c.group.Do(KindMap+":"+key, func() (any, error) {
		if exists(path) {
			return nil, nil
		}
		data, err := c.download(ctx, mapURL(c.config.MapURL, latKey, lonKey), c.config.MapTimeout)
		if err != nil {
			return nil, err
		}
		return nil, c.write(path, data)
	})
	if err != nil {
		c.metrics.RecordAsset(KindMap, "error")
		c.logger.Warn("Failed to download map", zap.String("key", key), zap.Error(err))
		return "", false
	}

	if !exists(path) {
		return "", false
	}
	return path, true
}

// Wait blocks until background downloads finish
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close cancels background downloads and waits for them
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) download(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	data, err := c.fetcher.Fetch(ctx, httpclient.Request{URL: rawURL, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty asset body from %s", rawURL)
	}
	return data, nil
}

// write stores data at path through a temporary file and rename so readers
// never observe a partial file. A missing directory is created on demand.
func (c *Cache) write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		c.logger.Debug("Failed to chmod cache file", zap.Error(err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

func (c *Cache) installPlaceholder() string {
	path := filepath.Join(c.config.Dir, "ip.svg")
	if exists(path) {
		return path
	}
	if err := c.write(path, placeholderIcon); err != nil {
		c.logger.Warn("Asset cache unavailable, continuing without it", zap.Error(err))
	}
	return path
}

func normalizeCountry(cc string) (string, bool) {
	cc = strings.ToLower(strings.TrimSpace(cc))
	if len(cc) != 2 {
		return "", false
	}
	for _, r := range cc {
		if r < 'a' || r > 'z' {
			return "", false
		}
	}
	return cc, true
}

func flagURL(template, cc string) string {
	return strings.ReplaceAll(template, "{cc}", cc)
}

func mapURL(base, lat, lon string) string {
	q := url.Values{
		"lat":    {lat},
		"lon":    {lon},
		"f":      {"SVG"},
		"marker": {"12"},
		"w":      {"250"},
		"h":      {"150"},
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
