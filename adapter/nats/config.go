package nats

import (
	"fmt"
	"time"
)

// Config for a NATS core subject channel.
type Config struct {
	URL      string
	Subject  string
	Queue    string // optional queue group; listeners in one group share messages
	Name     string
	Username string
	Password string
	Token    string

	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// Defaults returns a Config pointing at a local server. Subject is left empty.
func Defaults() Config {
	return Config{
		URL:            "nats://127.0.0.1:4222",
		Name:           "xproxy",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.Subject == "" {
		return fmt.Errorf("config: subject required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: connect_timeout must be > 0, got %v", c.ConnectTimeout)
	}
	return nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":             c.URL,
		"subject":         c.Subject,
		"queue":           c.Queue,
		"name":            c.Name,
		"username":        c.Username,
		"password":        c.Password,
		"token":           c.Token,
		"connect_timeout": c.ConnectTimeout,
		"reconnect_wait":  c.ReconnectWait,
		"max_reconnects":  c.MaxReconnects,
	}
}

// ConfigFromMap converts a generic map to Config on top of Defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	str := func(k string, dst *string) {
		if v, ok := m[k].(string); ok && v != "" {
			*dst = v
		}
	}
	str("url", &c.URL)
	str("subject", &c.Subject)
	str("queue", &c.Queue)
	str("name", &c.Name)
	str("username", &c.Username)
	str("password", &c.Password)
	str("token", &c.Token)

	if v, ok := toDuration(m["connect_timeout"]); ok && v > 0 {
		c.ConnectTimeout = v
	}
	if v, ok := toDuration(m["reconnect_wait"]); ok && v > 0 {
		c.ReconnectWait = v
	}
	switch v := m["max_reconnects"].(type) {
	case int:
		c.MaxReconnects = v
	case int64:
		c.MaxReconnects = int(v)
	case float64:
		c.MaxReconnects = int(v)
	}
	return c
}

func toDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	case int:
		return time.Duration(d), true
	case int64:
		return time.Duration(d), true
	case float64:
		return time.Duration(d), true
	}
	return 0, false
}
