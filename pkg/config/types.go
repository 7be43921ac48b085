package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Remote    RemoteConfig    `yaml:"remote"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Reactions ReactionsConfig `yaml:"reactions"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig holds the local cache database location.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// RemoteConfig points at the remote document store.
type RemoteConfig struct {
	BaseURL       string   `yaml:"base_url"`
	Token         string   `yaml:"token"`
	Timeout       Duration `yaml:"timeout"`
	RetryAttempts uint     `yaml:"retry_attempts"`
}

// StoreConfig tunes the record/thread store core.
type StoreConfig struct {
	// Namespace is the branch/environment discriminator isolating this
	// deployment's records from other branches.
	Namespace      string   `yaml:"namespace"`
	TrustedWriters []string `yaml:"trusted_writers"`
	// InflightGrace is how long a completed get-or-create lingers in the
	// coordinator to absorb the remote store's indexing lag.
	InflightGrace Duration        `yaml:"inflight_grace"`
	PageSize      int             `yaml:"page_size"`
	RecordTTL     RecordTTLConfig `yaml:"record_ttl"`
}

// RecordTTLConfig holds cache TTLs per record class.
type RecordTTLConfig struct {
	List Duration `yaml:"list"`
	Page Duration `yaml:"page"`
}

// CacheConfig tunes the persistent cache tier.
type CacheConfig struct {
	MaxEntries    int       `yaml:"max_entries"`
	MaxValueBytes SizeBytes `yaml:"max_value_bytes"`
	StaleTTL      Duration  `yaml:"stale_ttl"`
	SweepCron     string    `yaml:"sweep_cron"`
}

// RateLimitConfig maps action categories to their gates.
type RateLimitConfig map[string]RateCategory

// RateCategory is the cooldown plus sliding windows for one category.
type RateCategory struct {
	Cooldown Duration     `yaml:"cooldown"`
	Windows  []RateWindow `yaml:"windows"`
}

// RateWindow caps accepted actions inside a sliding span.
type RateWindow struct {
	Span Duration `yaml:"span"`
	Max  int      `yaml:"max"`
}

// ReactionsConfig tunes the reaction reconciler.
type ReactionsConfig struct {
	SwitchDelay Duration `yaml:"switch_delay"`
}

// SecurityConfig holds the HTTP edge settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "300ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
