package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}

	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_DEV", "")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "console")

	config := ConfigFromEnv(DefaultConfig())
	if config.Level != "warn" {
		t.Errorf("Expected level warn, got %s", config.Level)
	}
	if config.Format != "console" {
		t.Errorf("Expected format console, got %s", config.Format)
	}

	t.Setenv("LOG_DEV", "true")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	config = ConfigFromEnv(DefaultConfig())
	if !config.Development || config.Level != "debug" {
		t.Errorf("Expected development config, got %+v", config)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Config{Level: "debug", OutputPaths: []string{"stderr"}})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Named("test").With(PaymentID("pay_1"), IdempotencyKey("0123456789abcdef")).Debug("hello")
}

func TestGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	l := NewNoOpLogger()
	SetGlobal(l)
	if Global() != l {
		t.Error("Expected Global() to return the logger passed to SetGlobal")
	}

	SetGlobal(nil)
	if Global() == nil {
		t.Error("Expected SetGlobal(nil) to install a no-op logger")
	}
}
