package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const redacted = "[REDACTED]"

// Duration is a time.Duration that decodes from config text such as "90s".
// A bare integer is read as seconds, which keeps KODA_*_TIMEOUT=30 working.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	var parsed time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		parsed = time.Duration(n) * time.Second
	} else {
		parsed, err = time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
	}
	if parsed < 0 {
		return fmt.Errorf("duration must not be negative: %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret holds an API key or token. Every formatting and encoding path
// prints a placeholder; only Value exposes the credential.
type Secret string

func (s Secret) String() string { return s.mask() }

func (s Secret) GoString() string { return "config.Secret(" + strconv.Quote(s.mask()) + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}

// Value returns the credential itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}
