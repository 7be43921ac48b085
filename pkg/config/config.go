package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a config with every field at its documented default.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Storage.DBPath = "./data"
	cfg.Remote.Timeout = Duration(30 * time.Second)
	cfg.Remote.RetryAttempts = 3
	cfg.Store.Namespace = "main"
	cfg.Store.InflightGrace = Duration(5 * time.Second)
	cfg.Store.PageSize = 30
	cfg.Store.RecordTTL.List = Duration(60 * time.Second)
	cfg.Store.RecordTTL.Page = Duration(300 * time.Second)
	cfg.Cache.MaxEntries = 4096
	cfg.Cache.MaxValueBytes = SizeBytes(256 * 1024)
	cfg.Cache.StaleTTL = Duration(24 * time.Hour)
	cfg.Cache.SweepCron = "0 * * * *" // hourly
	cfg.RateLimit = RateLimitConfig{
		"comment": {
			Cooldown: Duration(5 * time.Second),
			Windows: []RateWindow{
				{Span: Duration(time.Minute), Max: 5},
				{Span: Duration(5 * time.Minute), Max: 10},
			},
		},
		"reaction": {
			Cooldown: Duration(time.Second),
			Windows: []RateWindow{
				{Span: Duration(time.Minute), Max: 10},
			},
		},
	}
	cfg.Reactions.SwitchDelay = Duration(300 * time.Millisecond)
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads the YAML config at path over the defaults, then applies env
// overrides. A missing file is not an error; env-only deployments are fine.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays PAGESTORE_* environment variables. Env wins over file.
func (c *Config) applyEnv() {
	if v := os.Getenv("PAGESTORE_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			c.Server.Address = host
			if p, err := strconv.Atoi(port); err == nil {
				c.Server.Port = p
			}
		}
	}
	if v := os.Getenv("PAGESTORE_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("PAGESTORE_REMOTE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("PAGESTORE_REMOTE_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("PAGESTORE_NAMESPACE"); v != "" {
		c.Store.Namespace = v
	}
	if v := os.Getenv("PAGESTORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// Flags holds command-line overrides. Flags win over env and file.
type Flags struct {
	Addr   string
	DBPath string
	Config string
	Set    map[string]bool
}

// ParseFlags parses the process flags once.
func ParseFlags() Flags {
	addr := flag.String("addr", "", "listen address (host:port)")
	db := flag.String("db", "", "cache database path")
	cfgPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addr, DBPath: *db, Config: *cfgPath, Set: set}
}

// Effective is the merged view of flags, env and file used by the app.
type Effective struct {
	Config *Config
	Addr   string
	DBPath string
	Source string
}

// LoadEffective merges file + env + flags into the effective config.
func LoadEffective(flags Flags) (Effective, error) {
	cfgPath := flags.Config
	if cfgPath == "" {
		cfgPath = os.Getenv("PAGESTORE_CONFIG")
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		return Effective{}, err
	}
	eff := Effective{Config: cfg, Addr: cfg.Addr(), DBPath: cfg.Storage.DBPath, Source: "config"}
	if flags.Set["addr"] {
		eff.Addr = flags.Addr
		eff.Source = "flags"
	}
	if flags.Set["db"] {
		eff.DBPath = flags.DBPath
		eff.Source = "flags"
	}
	return eff, nil
}
