package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"docgrid/internal/config"
)

const (
	logLevelEnvKey  = "DOCGRID_LOG_LEVEL"
	logFormatEnvKey = "DOCGRID_LOG_FORMAT"
)

type logSource string

const (
	sourceFlag    logSource = "flag"
	sourceEnv     logSource = "env"
	sourceConfig  logSource = "config"
	sourceDefault logSource = "default"
)

// logSetting is one resolved logging option and where it came from.
type logSetting struct {
	value  string
	source logSource
}

// pickSetting applies flag > env > config precedence.
func pickSetting(flagValue, envValue, configValue string) logSetting {
	switch {
	case strings.TrimSpace(flagValue) != "":
		return logSetting{value: flagValue, source: sourceFlag}
	case strings.TrimSpace(envValue) != "":
		return logSetting{value: envValue, source: sourceEnv}
	case strings.TrimSpace(configValue) != "":
		return logSetting{value: configValue, source: sourceConfig}
	default:
		return logSetting{source: sourceDefault}
	}
}

// setupLogging installs the process logger. An invalid flag value is an
// error; an invalid env or config value falls back to the default and is
// reported as a warning line.
func setupLogging(flagLevel, flagFormat string, cfg *config.Config) ([]string, error) {
	var warnings []string

	levelSetting := pickSetting(flagLevel, os.Getenv(logLevelEnvKey), cfg.LogLevel)
	level, err := parseLogLevel(levelSetting.value)
	if err != nil {
		warning, err := rejectSetting(levelSetting, "--log-level", logLevelEnvKey, "log_level", config.DefaultLogLevel)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, warning)
		level = slog.LevelInfo
	}

	formatSetting := pickSetting(flagFormat, os.Getenv(logFormatEnvKey), cfg.LogFormat)
	jsonOutput, err := parseLogFormat(formatSetting.value)
	if err != nil {
		warning, err := rejectSetting(formatSetting, "--log-format", logFormatEnvKey, "log_format", config.DefaultLogFormat)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, warning)
		jsonOutput = false
	}

	slog.SetDefault(newLogger(level, jsonOutput))
	return warnings, nil
}

func rejectSetting(s logSetting, flagName, envKey, configKey, fallback string) (string, error) {
	switch s.source {
	case sourceFlag:
		return "", fmt.Errorf("invalid %s %q", flagName, s.value)
	case sourceEnv:
		return fmt.Sprintf("warning: invalid %s=%q; defaulting to %s", envKey, s.value, fallback), nil
	default:
		return fmt.Sprintf("warning: invalid %s=%q; defaulting to %s", configKey, s.value, fallback), nil
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}
	if numeric, err := strconv.Atoi(value); err == nil {
		return slog.Level(numeric), nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

// parseLogFormat reports whether raw selects JSON log lines.
func parseLogFormat(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "text":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, fmt.Errorf("invalid log format %q", raw)
	}
}

func newLogger(level slog.Level, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(stderr, opts))
	}
	return slog.New(slog.NewTextHandler(stderr, opts))
}
