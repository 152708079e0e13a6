package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestGetEnvStr(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("METALINE_TEST_STR", "value")

	if got := GetEnvStr("METALINE_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnvStr() = %q, want %q", got, "value")
	}

	if got := GetEnvStr("METALINE_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnvStr() = %q, want %q", got, "fallback")
	}
}

func TestGetEnvInt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("METALINE_TEST_INT", "42")
	t.Setenv("METALINE_TEST_INT_BAD", "not-a-number")

	if got := GetEnvInt("METALINE_TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt() = %d, want 42", got)
	}

	if got := GetEnvInt("METALINE_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("GetEnvInt() = %d, want fallback 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"YES", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"maybe", true}, // unrecognized falls back to default
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("METALINE_TEST_BOOL", tt.value)

			if got := GetEnvBool("METALINE_TEST_BOOL", true); got != tt.want {
				t.Errorf("GetEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("METALINE_TEST_DUR", "150ms")

	if got := GetEnvDuration("METALINE_TEST_DUR", time.Second); got != 150*time.Millisecond {
		t.Errorf("GetEnvDuration() = %v, want 150ms", got)
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo}, // unrecognized falls back to default
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("METALINE_TEST_LOG_LEVEL", tt.value)

			if got := GetEnvLogLevel("METALINE_TEST_LOG_LEVEL", slog.LevelInfo); got != tt.want {
				t.Errorf("GetEnvLogLevel(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	got := ParseCommaSeparatedList(" a, b ,, c ")
	want := []string{"a", "b", "c"}

	if len(got) != len(want) {
		t.Fatalf("ParseCommaSeparatedList() = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseCommaSeparatedList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
