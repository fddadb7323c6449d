// Package config loads crawlkit's configuration from environment variables
// or a YAML file into the option structs each subpackage's constructor
// expects.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Log            LogConfig            `yaml:"log"`
	Auth           AuthConfig           `yaml:"auth"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
	Queue          QueueConfig          `yaml:"queue"`
	SessionPool    SessionPoolConfig    `yaml:"sessionPool"`
	Proxy          ProxyConfig          `yaml:"proxy"`
	Snapshotter    SnapshotterConfig    `yaml:"snapshotter"`
	AutoscaledPool AutoscaledPoolConfig `yaml:"autoscaledPool"`
	BrowserPool    BrowserPoolConfig    `yaml:"browserPool"`
	Crawler        CrawlerConfig        `yaml:"crawler"`
}

// ServerConfig controls the control-plane HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// AuthConfig controls API key authentication on the control plane.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"` // default: true
	APIKeys []string `yaml:"apiKeys"`
}

// RateLimitConfig controls per-key rate limiting on the control plane.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"` // default: 5
	Burst             int     `yaml:"burst"`             // default: 10
}

// QueueConfig controls RequestQueue/RequestList construction.
type QueueConfig struct {
	// PersistStateKeyPrefix namespaces a crawl's queue state within the
	// shared StateStore; crawler.Config.Key is used when empty.
	PersistStateKeyPrefix string `yaml:"persistStateKeyPrefix"`
}

// SessionPoolConfig mirrors session.Config.
type SessionPoolConfig struct {
	MaxPoolSize        int     `yaml:"maxPoolSize"`        // default: 1000
	MaxUsageCount      int     `yaml:"maxUsageCount"`      // default: 50
	MaxErrorScore      float64 `yaml:"maxErrorScore"`      // default: 3
	BlockedStatusCodes []int   `yaml:"blockedStatusCodes"` // default: [401, 403, 429]
	UserAgent          string  `yaml:"userAgent"`
}

// ProxyConfig controls proxyconf.Configuration construction.
type ProxyConfig struct {
	URLs             []string `yaml:"urls"`
	IsManInTheMiddle bool     `yaml:"isManInTheMiddle"`
}

// SnapshotterConfig mirrors sysmon.Config and sysmon.StatusConfig.
type SnapshotterConfig struct {
	Interval           time.Duration `yaml:"interval"`           // default: 1s
	MaxMemoryBytes     uint64        `yaml:"maxMemoryBytes"`     // 0 disables
	MaxEventLoopDelay  time.Duration `yaml:"maxEventLoopDelay"`  // default: 50ms
	MaxClientErrorRate float64       `yaml:"maxClientErrorRate"` // default: 0.3

	CurrentWindow      time.Duration `yaml:"currentWindow"`      // default: 5s
	HistoricalWindow   time.Duration `yaml:"historicalWindow"`   // default: 30s
	MaxOverloadedRatio float64       `yaml:"maxOverloadedRatio"` // default: 0.2
}

// AutoscaledPoolConfig mirrors autoscale.Config.
type AutoscaledPoolConfig struct {
	MinConcurrency     int           `yaml:"minConcurrency"`     // default: 1
	MaxConcurrency     int           `yaml:"maxConcurrency"`     // default: 200
	DesiredConcurrency int           `yaml:"desiredConcurrency"` // default: 10
	ScaleUpStepRatio   float64       `yaml:"scaleUpStepRatio"`   // default: 0.05
	ScaleDownStepRatio float64       `yaml:"scaleDownStepRatio"` // default: 0.05
	MaybeRunInterval   time.Duration `yaml:"maybeRunInterval"`   // default: 500ms
	AdjustInterval     time.Duration `yaml:"adjustInterval"`     // default: 10s
	LoggingInterval    time.Duration `yaml:"loggingInterval"`    // default: 60s
}

// BrowserPoolConfig mirrors browserpool.Config.
type BrowserPoolConfig struct {
	Headless                      bool          `yaml:"headless"`  // default: true
	NoSandbox                     bool          `yaml:"noSandbox"` // default: false
	BrowserBin                    string        `yaml:"browserBin"`
	MaxOpenPagesPerBrowser        int           `yaml:"maxOpenPagesPerBrowser"`        // default: 20
	RetireBrowserAfterPageCount   int           `yaml:"retireBrowserAfterPageCount"`   // default: 100
	CloseInactiveBrowserAfterSecs int           `yaml:"closeInactiveBrowserAfterSecs"` // default: 300
	InactivitySweepInterval       time.Duration `yaml:"inactivitySweepInterval"`       // default: 10s
	EnableFingerprinting          bool          `yaml:"enableFingerprinting"`          // default: true
	FingerprintCacheSize          int           `yaml:"fingerprintCacheSize"`          // default: 500
	BlockedResourceTypes          []string      `yaml:"blockedResourceTypes"`          // default: ["Image","Stylesheet","Font","Media"]
}

// CrawlerConfig controls BasicCrawler/BrowserCrawler construction.
type CrawlerConfig struct {
	MaxRequestRetries         int  `yaml:"maxRequestRetries"`         // default: 3
	MaxRequestsPerCrawl       int  `yaml:"maxRequestsPerCrawl"`       // 0 = unlimited
	NavigationTimeoutSecs     int  `yaml:"navigationTimeoutSecs"`     // default: 60
	RequestHandlerTimeoutSecs int  `yaml:"requestHandlerTimeoutSecs"` // default: 60
	UseSessionPool            bool `yaml:"useSessionPool"`            // default: true
	PersistCookiesPerSession  bool `yaml:"persistCookiesPerSession"`  // default: true
	UseBrowser                bool `yaml:"useBrowser"`                // selects BrowserCrawler over BasicCrawler
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("CRAWLKIT_HOST", "0.0.0.0"),
			Port: envIntOr("CRAWLKIT_PORT", 8080),
			Mode: envOr("CRAWLKIT_MODE", "release"),
		},
		Log: LogConfig{
			Level:  envOr("CRAWLKIT_LOG_LEVEL", "info"),
			Format: envOr("CRAWLKIT_LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("CRAWLKIT_AUTH_ENABLED", true),
			APIKeys: envSliceOr("CRAWLKIT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("CRAWLKIT_RATE_RPS", 5.0),
			Burst:             envIntOr("CRAWLKIT_RATE_BURST", 10),
		},
		Queue: QueueConfig{
			PersistStateKeyPrefix: envOr("CRAWLKIT_QUEUE_KEY_PREFIX", ""),
		},
		SessionPool: SessionPoolConfig{
			MaxPoolSize:        envIntOr("CRAWLKIT_SESSION_POOL_SIZE", 1000),
			MaxUsageCount:      envIntOr("CRAWLKIT_SESSION_MAX_USAGE", 50),
			MaxErrorScore:      envFloatOr("CRAWLKIT_SESSION_MAX_ERROR_SCORE", 3),
			BlockedStatusCodes: envIntSliceOr("CRAWLKIT_BLOCKED_STATUS_CODES", []int{401, 403, 429}),
			UserAgent:          envOr("CRAWLKIT_USER_AGENT", ""),
		},
		Proxy: ProxyConfig{
			URLs:             envSliceOr("CRAWLKIT_PROXY_URLS", nil),
			IsManInTheMiddle: envBoolOr("CRAWLKIT_PROXY_MITM", false),
		},
		Snapshotter: SnapshotterConfig{
			Interval:           envDurationOr("CRAWLKIT_SNAPSHOT_INTERVAL", time.Second),
			MaxMemoryBytes:     envUint64Or("CRAWLKIT_MAX_MEMORY_BYTES", 0),
			MaxEventLoopDelay:  envDurationOr("CRAWLKIT_MAX_EVENT_LOOP_DELAY", 50*time.Millisecond),
			MaxClientErrorRate: envFloatOr("CRAWLKIT_MAX_CLIENT_ERROR_RATE", 0.3),
			CurrentWindow:      envDurationOr("CRAWLKIT_CURRENT_WINDOW", 5*time.Second),
			HistoricalWindow:   envDurationOr("CRAWLKIT_HISTORICAL_WINDOW", 30*time.Second),
			MaxOverloadedRatio: envFloatOr("CRAWLKIT_MAX_OVERLOADED_RATIO", 0.2),
		},
		AutoscaledPool: AutoscaledPoolConfig{
			MinConcurrency:     envIntOr("CRAWLKIT_MIN_CONCURRENCY", 1),
			MaxConcurrency:     envIntOr("CRAWLKIT_MAX_CONCURRENCY", 200),
			DesiredConcurrency: envIntOr("CRAWLKIT_DESIRED_CONCURRENCY", 10),
			ScaleUpStepRatio:   envFloatOr("CRAWLKIT_SCALE_UP_STEP", 0.05),
			ScaleDownStepRatio: envFloatOr("CRAWLKIT_SCALE_DOWN_STEP", 0.05),
			MaybeRunInterval:   envDurationOr("CRAWLKIT_MAYBE_RUN_INTERVAL", 500*time.Millisecond),
			AdjustInterval:     envDurationOr("CRAWLKIT_ADJUST_INTERVAL", 10*time.Second),
			LoggingInterval:    envDurationOr("CRAWLKIT_LOGGING_INTERVAL", 60*time.Second),
		},
		BrowserPool: BrowserPoolConfig{
			Headless:                      envBoolOr("CRAWLKIT_HEADLESS", true),
			NoSandbox:                     envBoolOr("CRAWLKIT_NO_SANDBOX", false),
			BrowserBin:                    os.Getenv("CRAWLKIT_BROWSER_BIN"),
			MaxOpenPagesPerBrowser:        envIntOr("CRAWLKIT_MAX_PAGES_PER_BROWSER", 20),
			RetireBrowserAfterPageCount:   envIntOr("CRAWLKIT_RETIRE_AFTER_PAGES", 100),
			CloseInactiveBrowserAfterSecs: envIntOr("CRAWLKIT_CLOSE_INACTIVE_SECS", 300),
			InactivitySweepInterval:       envDurationOr("CRAWLKIT_INACTIVITY_SWEEP_INTERVAL", 10*time.Second),
			EnableFingerprinting:          envBoolOr("CRAWLKIT_ENABLE_FINGERPRINTING", true),
			FingerprintCacheSize:          envIntOr("CRAWLKIT_FINGERPRINT_CACHE_SIZE", 500),
			BlockedResourceTypes: envSliceOr("CRAWLKIT_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Crawler: CrawlerConfig{
			MaxRequestRetries:         envIntOr("CRAWLKIT_MAX_REQUEST_RETRIES", 3),
			MaxRequestsPerCrawl:       envIntOr("CRAWLKIT_MAX_REQUESTS_PER_CRAWL", 0),
			NavigationTimeoutSecs:     envIntOr("CRAWLKIT_NAV_TIMEOUT_SECS", 60),
			RequestHandlerTimeoutSecs: envIntOr("CRAWLKIT_HANDLER_TIMEOUT_SECS", 60),
			UseSessionPool:            envBoolOr("CRAWLKIT_USE_SESSION_POOL", true),
			PersistCookiesPerSession:  envBoolOr("CRAWLKIT_PERSIST_COOKIES", true),
			UseBrowser:                envBoolOr("CRAWLKIT_USE_BROWSER", false),
		},
	}
}

// LoadFile reads configuration from a YAML file, layered on top of Load's
// environment-derived defaults so a file only needs to set what it
// overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envUint64Or(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

func envIntSliceOr(key string, fallback []int) []int {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]int, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				if i, err := strconv.Atoi(trimmed); err == nil {
					result = append(result, i)
				}
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
