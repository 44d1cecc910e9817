package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	envPrefix             = "XLREAD_"
	defaultSheetDelimiter = "--------"
)

// config holds the settings shared by the CSV writer and the logger.
type config struct {
	Delimiter      string `koanf:"delimiter"`
	Quoting        string `koanf:"quoting"`
	LineTerminator string `koanf:"lineterminator"`
	DateFormat     string `koanf:"dateformat"`
	FloatFormat    string `koanf:"floatformat"`
	SheetDelimiter string `koanf:"sheetdelimiter"`
	IgnoreEmpty    bool   `koanf:"ignoreempty"`
	Escape         bool   `koanf:"escape"`
	LogLevel       string `koanf:"log-level"`
}

// loadConfig merges defaults, the YAML file, XLREAD_* variables and the
// flags that were set explicitly. Later sources win.
func loadConfig(path string, flags *pflag.FlagSet) (*config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"delimiter":      ",",
		"quoting":        "minimal",
		"sheetdelimiter": defaultSheetDelimiter,
		"log-level":      "warn",
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// XLREAD_LOG_LEVEL -> log-level
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return f.Name, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

type settingsKey struct{}

type settings struct {
	cfg    *config
	logger *slog.Logger
}

func withSettings(ctx context.Context, cfg *config, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, settingsKey{}, settings{cfg: cfg, logger: logger})
}

// settingsFrom returns the settings stored by the root command, falling
// back to defaults when a subcommand runs on its own.
func settingsFrom(ctx context.Context) (*config, *slog.Logger) {
	if ctx != nil {
		if s, ok := ctx.Value(settingsKey{}).(settings); ok {
			return s.cfg, s.logger
		}
	}
	return &config{Delimiter: ",", Quoting: "minimal", SheetDelimiter: defaultSheetDelimiter}, slog.New(slog.DiscardHandler)
}
