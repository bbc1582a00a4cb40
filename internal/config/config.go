// Package config loads the YAML file that drives the xproxy command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trickstertwo/xproxy"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "xproxy.yaml"

// Config is the on-disk configuration.
type Config struct {
	Prefix     string        `yaml:"prefix"`
	Caller     string        `yaml:"caller,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxPending int           `yaml:"max_pending,omitempty"`

	// Send is where requests (or, when serving, replies) are posted.
	Send Endpoint `yaml:"send"`
	// Receive is where replies (or, when serving, requests) arrive.
	// Left empty, the send channel is used in both directions.
	Receive Endpoint `yaml:"receive,omitempty"`

	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics,omitempty"`
}

// Endpoint names a registered channel and its settings.
type Endpoint struct {
	Transport string         `yaml:"transport,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"`
}

// IsZero lets yaml omit an unset endpoint.
func (e Endpoint) IsZero() bool { return e.Transport == "" && len(e.Config) == 0 }

// Log selects logger settings.
type Log struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Metrics enables a Prometheus scrape endpoint when Addr is set.
type Metrics struct {
	Addr      string `yaml:"addr,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// IsZero lets yaml omit disabled metrics.
func (m Metrics) IsZero() bool { return m.Addr == "" && m.Namespace == "" }

// Defaults returns a Config with every optional field filled in.
func Defaults() Config {
	return Config{
		Prefix:  xproxy.DefaultPrefix,
		Timeout: 30 * time.Second,
		Log:     Log{Level: "info"},
	}
}

// Validate reports the first problem found.
func (c Config) Validate() error {
	if c.Send.Transport == "" {
		return errors.New("config: send.transport required")
	}
	if c.Receive.Transport == "" && len(c.Receive.Config) > 0 {
		return errors.New("config: receive.config given without receive.transport")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must be >= 0, got %v", c.Timeout)
	}
	if c.MaxPending < 0 {
		return fmt.Errorf("config: max_pending must be >= 0, got %d", c.MaxPending)
	}
	switch c.Log.Level {
	case "debug", "info":
	default:
		return fmt.Errorf("config: log.level must be debug or info, got %q", c.Log.Level)
	}
	return nil
}

// Shared reports whether one channel serves both directions.
func (c Config) Shared() bool { return c.Receive.Transport == "" }

// Parse decodes data on top of Defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	c := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
