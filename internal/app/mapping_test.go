package app

import (
	"strings"
	"testing"
	"time"

	"hermes/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Web: config.WebConfig{Addr: ":0"},
		Portal: config.PortalConfig{
			LoginURL:  "http://portal.example/login",
			EventsURL: "http://portal.example/events",
			TableURL:  "http://portal.example/table",
		},
		Telegram: config.TelegramConfig{Token: "123:abc", LogChannel: -100},
		Logging:  config.LoggingConfig{Level: "info", Console: true},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	t.Parallel()
	if err := validate(validConfig()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{"missing token", func(c *config.Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"missing channel", func(c *config.Config) { c.Telegram.LogChannel = 0 }, "telegram.log_channel"},
		{"missing portal url", func(c *config.Config) { c.Portal.TableURL = "" }, "portal.table_url"},
		{"bad duration", func(c *config.Config) { c.Session.PollInterval = "soon" }, "session.poll_interval"},
		{"negative rate", func(c *config.Config) { c.Sender.RatePerSec = -1 }, "sender.rate_per_sec"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestMapBootstrapDefaults(t *testing.T) {
	t.Parallel()

	got, err := mapBootstrap(validConfig())
	if err != nil {
		t.Fatalf("mapBootstrap: %v", err)
	}
	if got.PollInterval != 2*time.Second || got.PollTimeout != 10*time.Second {
		t.Fatalf("poll defaults = %v/%v", got.PollInterval, got.PollTimeout)
	}
	if got.MaxWait != 0 {
		t.Fatalf("MaxWait = %v, want unbounded default", got.MaxWait)
	}
}

func TestMapBootstrapExplicit(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Session = config.SessionConfig{
		PollInterval: "500ms",
		PollTimeout:  "3s",
		MaxWait:      "2m",
		VerifyPhone:  "919999999999",
	}
	got, err := mapBootstrap(cfg)
	if err != nil {
		t.Fatalf("mapBootstrap: %v", err)
	}
	if got.PollInterval != 500*time.Millisecond || got.MaxWait != 2*time.Minute || got.VerifyPhone != "919999999999" {
		t.Fatalf("got %+v", got)
	}
}
