package redisstream

import (
	"fmt"
	"os"
	"time"
)

// Config for a Redis Streams channel.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Stream is the key messages are appended to and read from.
	Stream string

	// Consumer group
	Group       string
	Consumer    string
	Concurrency int
	BatchSize   int
	Block       time.Duration
	AutoCreate  bool

	// Stream management
	AutoDeleteOnAck bool
	MaxLenApprox    int64

	// Pending entry recovery: entries idle longer than ClaimMinIdle are claimed and redelivered.
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns a Config with production-safe defaults. Stream is left empty.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xproxy"
	}
	consumer := fmt.Sprintf("xproxy-%s-%d", hostname, os.Getpid())

	return Config{
		Addr:          "127.0.0.1:6379",
		Group:         consumer,
		Consumer:      consumer,
		Concurrency:   1,
		BatchSize:     128,
		Block:         5 * time.Second,
		AutoCreate:    true,
		ClaimBatch:    128,
		ClaimInterval: 15 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.ClaimMinIdle > 0 && c.ClaimInterval <= 0 {
		return fmt.Errorf("config: claim_interval must be > 0 if claim_min_idle is set")
	}
	return nil
}

// toMap converts Config to generic map for the channel factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"username":           c.Username,
		"password":           c.Password,
		"db":                 c.DB,
		"tls":                c.TLS,
		"tls_server_name":    c.TLSServerName,
		"stream":             c.Stream,
		"group":              c.Group,
		"consumer":           c.Consumer,
		"concurrency":        c.Concurrency,
		"batch_size":         c.BatchSize,
		"block":              c.Block,
		"auto_create":        c.AutoCreate,
		"auto_delete_on_ack": c.AutoDeleteOnAck,
		"max_len_approx":     c.MaxLenApprox,
		"claim_min_idle":     c.ClaimMinIdle,
		"claim_batch":        c.ClaimBatch,
		"claim_interval":     c.ClaimInterval,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
// Durations may be given as time.Duration or as strings like "5s".
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := toInt(m["db"]); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["stream"].(string); ok {
		c.Stream = v
	}
	if v, ok := m["consumer"].(string); ok && v != "" {
		c.Consumer = v
		c.Group = v
	}
	if v, ok := m["group"].(string); ok && v != "" {
		c.Group = v
	}
	if v, ok := toInt(m["concurrency"]); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := toInt(m["batch_size"]); ok && v > 0 {
		c.BatchSize = v
	}
	if v, ok := toDuration(m["block"]); ok && v > 0 {
		c.Block = v
	}
	if v, ok := m["auto_create"].(bool); ok {
		c.AutoCreate = v
	}
	if v, ok := m["auto_delete_on_ack"].(bool); ok {
		c.AutoDeleteOnAck = v
	}
	if v, ok := toInt64(m["max_len_approx"]); ok && v > 0 {
		c.MaxLenApprox = v
	}
	if v, ok := toDuration(m["claim_min_idle"]); ok {
		c.ClaimMinIdle = v
	}
	if v, ok := toInt(m["claim_batch"]); ok && v > 0 {
		c.ClaimBatch = v
	}
	if v, ok := toDuration(m["claim_interval"]); ok && v > 0 {
		c.ClaimInterval = v
	}

	return c
}

func toInt(v any) (int, bool) {
	n, ok := toInt64(v)
	return int(n), ok
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
