package config

// Config is the root configuration for the relay.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Web      WebConfig      `json:"web"`
	Portal   PortalConfig   `json:"portal"`
	Telegram TelegramConfig `json:"telegram"`
	Browser  BrowserConfig  `json:"browser"`
	Session  SessionConfig  `json:"session"`
	Sender   SenderConfig   `json:"sender"`
	Spool    SpoolConfig    `json:"spool,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
}

// WebConfig controls the operator-facing HTTP server.
type WebConfig struct {
	Addr string `json:"addr"` // default ":8080"
	// ReadHeaderTimeout is a Go duration string. Default "5s".
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	// SessionTTL bounds how long an operator web session stays valid. Default "12h".
	SessionTTL string `json:"session_ttl,omitempty"`
}

// PortalConfig points at the participant API the relay pulls recipients from.
//
// The portal authenticates requests via a `Credentials` header carrying a
// base64 "username|password" string; LoginURL returns 200 iff it is valid.
type PortalConfig struct {
	LoginURL  string `json:"login_url"`
	EventsURL string `json:"events_url"`
	TableURL  string `json:"table_url"`
	// Timeout is a Go duration string for portal HTTP calls. Default "15s".
	Timeout string `json:"timeout,omitempty"`
}

// TelegramConfig controls the notification side-channel.
type TelegramConfig struct {
	Token string `json:"token"`
	// LogChannel is the chat ID delivery reports and operational notices go to.
	LogChannel int64 `json:"log_channel"`
	// Timeout is a Go duration string for Telegram API calls. Default "10s".
	Timeout string `json:"timeout,omitempty"`
}

// BrowserConfig controls the automation driver.
type BrowserConfig struct {
	// ControlURL attaches to an already-running browser (DevTools endpoint).
	// If empty, a browser is launched locally.
	ControlURL string `json:"control_url,omitempty"`
	// Bin overrides the browser binary used by the local launcher.
	Bin      string `json:"bin,omitempty"`
	Headless bool   `json:"headless"`
	// NavigationTimeout is a Go duration string. Default "45s".
	NavigationTimeout string `json:"navigation_timeout,omitempty"`
}

// SessionConfig controls login bootstrap behavior.
type SessionConfig struct {
	// PollInterval between "is logged in" checks. Default "2s".
	PollInterval string `json:"poll_interval,omitempty"`
	// PollTimeout bounds a single login check. Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
	// MaxWait bounds the whole login wait. "0s" (the default) means wait
	// forever; the operator scanning the code is the only deadline. This is a
	// deliberate choice, not an omission, so it is spelled out in config.
	MaxWait string `json:"max_wait,omitempty"`
	// VerifyPhone, when set, is checked to resolve to a real chat before any
	// bulk send starts.
	VerifyPhone string `json:"verify_phone,omitempty"`
}

// SenderConfig controls the send pipeline.
type SenderConfig struct {
	// CountryCode is prefixed to 10-digit numbers. Default "91".
	CountryCode string `json:"country_code,omitempty"`
	// RatePerSec paces delivery attempts. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// ChatLinkBase is used in report lines ("id. name : uri").
	// Default "https://api.whatsapp.com/send?phone=".
	ChatLinkBase string `json:"chat_link_base,omitempty"`
}

// SpoolConfig controls the temp-file area for uploads and report artifacts.
type SpoolConfig struct {
	Dir string `json:"dir,omitempty"` // default os.TempDir()/hermes-spool
	// MaxAge after which an orphaned spool file is swept. Default "24h".
	MaxAge string `json:"max_age,omitempty"`
	// Sweep is a cron spec for the janitor. Default "@hourly".
	Sweep string `json:"sweep,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
