package cli

import (
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xproxy/internal/config"
)

func defaultConfigPath() string { return config.DefaultPath }

func loadConfig(opts *RootOptions) (config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(c config.Log) *xlog.Logger {
	level := xlog.LevelInfo
	if c.Level == "debug" {
		level = xlog.LevelDebug
	}
	return zerolog.Use(zerolog.Config{
		MinLevel: level,
		Console:  c.Console,
	})
}
