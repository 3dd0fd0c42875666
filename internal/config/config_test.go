package config

import (
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback time.Duration
		expected time.Duration
	}{
		{"parses duration", "90s", time.Minute, 90 * time.Second},
		{"uses default when empty", "", 5 * time.Minute, 5 * time.Minute},
		{"uses default for garbage", "soon", time.Hour, time.Hour},
		{"uses default for negative", "-1m", time.Hour, time.Hour},
		{"zero is allowed", "0s", time.Minute, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("EXSTEM_TEST_DURATION", tc.value)
			got := getEnvDuration("EXSTEM_TEST_DURATION", tc.fallback)
			if got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("EXSTEM_TEST_BOOL", "true")
	if !getEnvBool("EXSTEM_TEST_BOOL", false) {
		t.Errorf("Expected true from env")
	}

	t.Setenv("EXSTEM_TEST_BOOL", "nope")
	if getEnvBool("EXSTEM_TEST_BOOL", false) {
		t.Errorf("Expected fallback for unparsable value")
	}
}

func TestParseOrigins(t *testing.T) {
	if got := parseOrigins(""); got != nil {
		t.Fatalf("Expected nil for empty input, got %v", got)
	}

	got := parseOrigins(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("Unexpected origins: %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_HEARTBEAT_WINDOW", "")
	t.Setenv("DEVICE_TIMEOUT", "")

	cfg := Load()
	if cfg.HeartbeatWindow != 5*time.Minute {
		t.Errorf("Expected 5m heartbeat window, got %v", cfg.HeartbeatWindow)
	}
	if cfg.DeviceTimeout != time.Hour {
		t.Errorf("Expected 1h device timeout, got %v", cfg.DeviceTimeout)
	}
}
