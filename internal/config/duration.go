package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields in Config are Go duration strings ("500ms", "10s", "1m").
// An empty field parses to zero so callers can distinguish "unset" from an
// explicit value; negative durations are always rejected.

// ParseDurationField parses one duration field. path names the field in the
// returned error ("session.poll_interval: ...").
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault parses one duration field, substituting def when
// the field is unset or zero. A def of 0 keeps the zero: that is how fields
// like session.max_wait spell "unbounded".
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
