package app

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"pagestore/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.Effective) error {
	// DB path must be present
	if eff.DBPath == "" {
		return fmt.Errorf("cache database path is empty: set --db flag, PAGESTORE_DB_PATH env, or storage.db_path in config")
	}

	// remote base URL must be present and parseable
	base := eff.Config.Remote.BaseURL
	if base == "" {
		return fmt.Errorf("remote base URL is empty: set PAGESTORE_REMOTE_URL env or remote.base_url in config")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote base URL %q is not an absolute URL", base)
	}

	// TLS cert/key presence check if one is set
	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	// rate limit windows must be well-formed
	for name, cat := range eff.Config.RateLimit {
		for _, w := range cat.Windows {
			if time.Duration(w.Span) <= 0 || w.Max <= 0 {
				return fmt.Errorf("rate limit category %q has a window with non-positive span or max", name)
			}
		}
	}

	if eff.Config.Store.PageSize <= 0 {
		return fmt.Errorf("store.page_size must be positive")
	}
	return nil
}
