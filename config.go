package goAuthClient

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from [DefaultConfig], a YAML file
// via [LoadConfigFile], or both, then overlay the environment with [ApplyEnv].
type Config struct {
	App     AppConfig     `yaml:"app" envPrefix:"APP_"`
	Routes  RoutesConfig  `yaml:"routes" envPrefix:"ROUTES_"`
	Device  DeviceConfig  `yaml:"device" envPrefix:"DEVICE_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Refresh RefreshConfig `yaml:"refresh" envPrefix:"REFRESH_"`
	Request RequestConfig `yaml:"request" envPrefix:"REQUEST_"`
	Audit   AuditConfig   `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

/*
====================================
APP CONFIG
====================================
*/

// AppConfig identifies the client app on the platform.
type AppConfig struct {
	ID      string `yaml:"id" env:"ID"`
	Name    string `yaml:"name" env:"NAME"`
	Version string `yaml:"version" env:"VERSION"`
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig locates the client API relative to the transport's base URL.
type RoutesConfig struct {
	BasePath string `yaml:"base_path" env:"BASE_PATH"`
}

/*
====================================
DEVICE CONFIG
====================================
*/

// DeviceConfig describes this device. It is sent with every login.
type DeviceConfig struct {
	Platform        string `yaml:"platform" env:"PLATFORM"`
	PlatformVersion string `yaml:"platform_version" env:"PLATFORM_VERSION"`
	SDKVersion      string `yaml:"sdk_version" env:"SDK_VERSION"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig controls where session state is persisted. Keys live under
// "<Prefix>:<App.ID>".
type StorageConfig struct {
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls proactive access token refresh.
type RefreshConfig struct {
	// Lookahead is how long before expiry a token is refreshed before use.
	Lookahead time.Duration `yaml:"lookahead" env:"LOOKAHEAD"`
	// BackgroundInterval enables a background refresher when positive.
	BackgroundInterval time.Duration `yaml:"background_interval" env:"BACKGROUND_INTERVAL"`
}

/*
====================================
REQUEST CONFIG
====================================
*/

// RequestConfig bounds transport calls made by the engine.
type RequestConfig struct {
	// Timeout applies to each transport call. Zero leaves deadlines to the caller's context.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" env:"DROP_IF_FULL"`

	// DrainTimeout bounds how long Close delivers queued events. Zero drains all.
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the defaults every other configuration source overlays.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Routes: RoutesConfig{
			BasePath: "/api/client/v2.0",
		},
		Device: DeviceConfig{
			Platform:   "go",
			SDKVersion: SDKVersion,
		},
		Storage: StorageConfig{
			Prefix: "goauthclient",
		},
		Refresh: RefreshConfig{
			Lookahead: time.Minute,
		},
		Request: RequestConfig{
			Timeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			DrainTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.ID) == "" {
		return errors.New("App ID must be set")
	}
	if strings.ContainsAny(c.App.ID, "/: ") {
		return errors.New("App ID must not contain '/', ':' or spaces")
	}
	if !strings.HasPrefix(c.Routes.BasePath, "/") {
		return errors.New("Routes BasePath must start with '/'")
	}
	if strings.TrimSpace(c.Storage.Prefix) == "" {
		return errors.New("Storage Prefix must be set")
	}
	if c.Refresh.Lookahead < 0 {
		return errors.New("Refresh Lookahead must be >= 0")
	}
	if c.Refresh.BackgroundInterval < 0 {
		return errors.New("Refresh BackgroundInterval must be >= 0")
	}
	if c.Refresh.BackgroundInterval > 0 && c.Refresh.BackgroundInterval < 10*time.Millisecond {
		return errors.New("Refresh BackgroundInterval must be >= 10ms when enabled")
	}
	if c.Request.Timeout < 0 {
		return errors.New("Request Timeout must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}
	if c.Audit.DrainTimeout < 0 {
		return errors.New("Audit DrainTimeout must be >= 0")
	}
	return nil
}

// namespace is the storage key namespace of this app.
func (c *Config) namespace() string {
	return c.Storage.Prefix + ":" + c.App.ID
}
