package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"defaults", Config{}},
		{"production json", Config{Environment: "production", LogLevel: "warn"}},
		{"named run", Config{RunName: "bwe-48k", LogLevel: "debug"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log, err := New(tc.cfg)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if log == nil {
				t.Fatal("Expected a logger")
			}
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"unknown": zapcore.InfoLevel,
	}
	for input, want := range cases {
		if got := getLogLevel(input).Level(); got != want {
			t.Errorf("getLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
