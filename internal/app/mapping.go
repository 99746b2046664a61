package app

import (
	"fmt"
	"strings"
	"time"

	"hermes/internal/config"
	"hermes/internal/portal"
	"hermes/internal/session"
	"hermes/internal/spool"
	"hermes/internal/web"
	"hermes/internal/wweb"
	logx "hermes/pkg/logx"
)

// The map* helpers translate raw config into component configs. Each one
// also validates its section, so the config watcher can reuse them to
// reject a bad hot-reload before commit.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPortal(cfg *config.Config) (portal.Config, error) {
	for _, f := range []struct{ key, val string }{
		{"portal.login_url", cfg.Portal.LoginURL},
		{"portal.events_url", cfg.Portal.EventsURL},
		{"portal.table_url", cfg.Portal.TableURL},
	} {
		if strings.TrimSpace(f.val) == "" {
			return portal.Config{}, fmt.Errorf("%s is required", f.key)
		}
	}
	timeout, err := config.ParseDurationOrDefault("portal.timeout", cfg.Portal.Timeout, 15*time.Second)
	if err != nil {
		return portal.Config{}, err
	}
	return portal.Config{
		LoginURL:  cfg.Portal.LoginURL,
		EventsURL: cfg.Portal.EventsURL,
		TableURL:  cfg.Portal.TableURL,
		Timeout:   timeout,
	}, nil
}

func mapBrowser(cfg *config.Config) (wweb.Config, error) {
	nav, err := config.ParseDurationOrDefault("browser.navigation_timeout", cfg.Browser.NavigationTimeout, 45*time.Second)
	if err != nil {
		return wweb.Config{}, err
	}
	return wweb.Config{
		ControlURL:        cfg.Browser.ControlURL,
		Bin:               cfg.Browser.Bin,
		Headless:          cfg.Browser.Headless,
		NavigationTimeout: nav,
	}, nil
}

func mapBootstrap(cfg *config.Config) (session.BootstrapConfig, error) {
	poll, err := config.ParseDurationOrDefault("session.poll_interval", cfg.Session.PollInterval, 2*time.Second)
	if err != nil {
		return session.BootstrapConfig{}, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("session.poll_timeout", cfg.Session.PollTimeout, 10*time.Second)
	if err != nil {
		return session.BootstrapConfig{}, err
	}
	// Zero is a valid MaxWait: wait for the operator indefinitely.
	maxWait, err := config.ParseDurationOrDefault("session.max_wait", cfg.Session.MaxWait, 0)
	if err != nil {
		return session.BootstrapConfig{}, err
	}
	return session.BootstrapConfig{
		PollInterval: poll,
		PollTimeout:  pollTimeout,
		MaxWait:      maxWait,
		VerifyPhone:  cfg.Session.VerifyPhone,
	}, nil
}

func mapWeb(cfg *config.Config) (web.Config, error) {
	readHeader, err := config.ParseDurationOrDefault("web.read_header_timeout", cfg.Web.ReadHeaderTimeout, 5*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("web.session_ttl", cfg.Web.SessionTTL, 12*time.Hour)
	if err != nil {
		return web.Config{}, err
	}
	return web.Config{
		Addr:              cfg.Web.Addr,
		ReadHeaderTimeout: readHeader,
		SessionTTL:        ttl,
	}, nil
}

func mapJanitor(cfg *config.Config) (spool.JanitorConfig, error) {
	maxAge, err := config.ParseDurationOrDefault("spool.max_age", cfg.Spool.MaxAge, 24*time.Hour)
	if err != nil {
		return spool.JanitorConfig{}, err
	}
	return spool.JanitorConfig{
		Sweep:  cfg.Spool.Sweep,
		MaxAge: maxAge,
	}, nil
}

func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.LogChannel == 0 {
		return fmt.Errorf("telegram.log_channel is required")
	}
	if _, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second); err != nil {
		return err
	}
	if cfg.Sender.RatePerSec < 0 {
		return fmt.Errorf("sender.rate_per_sec must be >= 0")
	}
	if _, err := mapPortal(cfg); err != nil {
		return err
	}
	if _, err := mapBrowser(cfg); err != nil {
		return err
	}
	if _, err := mapBootstrap(cfg); err != nil {
		return err
	}
	if _, err := mapWeb(cfg); err != nil {
		return err
	}
	if _, err := mapJanitor(cfg); err != nil {
		return err
	}
	return nil
}
