package util

import (
	"testing"
	"time"
)

func TestStringEnv(t *testing.T) {
	t.Setenv("TASKPIPE_TEST_STRING", "")
	if got := StringEnv("TASKPIPE_TEST_STRING", "America/Sao_Paulo"); got != "America/Sao_Paulo" {
		t.Errorf("unset value should fall back, got %q", got)
	}
	t.Setenv("TASKPIPE_TEST_STRING", "   ")
	if got := StringEnv("TASKPIPE_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("blank value should fall back, got %q", got)
	}
	t.Setenv("TASKPIPE_TEST_STRING", " Europe/Lisbon ")
	if got := StringEnv("TASKPIPE_TEST_STRING", "fallback"); got != "Europe/Lisbon" {
		t.Errorf("expected trimmed value, got %q", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"1", false, true},
		{"false", true, false},
		{"Off", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("TASKPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TASKPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	def := 24 * time.Hour
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", def},
		{"30m", 30 * time.Minute},
		{" 2h ", 2 * time.Hour},
		{"0s", def},
		{"-5m", def},
		{"soon", def},
	}
	for _, tt := range tests {
		t.Setenv("TASKPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("TASKPIPE_TEST_DURATION", def); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
