package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("TSUISEKI_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid TSUISEKI_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "TSUISEKI_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention TSUISEKI_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("TSUISEKI_PORT", "abc")
	t.Setenv("TSUISEKI_RETENTION_INTERVAL", "hourly")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "TSUISEKI_PORT") {
		t.Fatalf("error should mention TSUISEKI_PORT, got: %s", got)
	}
	if !strings.Contains(got, "TSUISEKI_RETENTION_INTERVAL") {
		t.Fatalf("error should mention TSUISEKI_RETENTION_INTERVAL, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.RetentionInterval != 0 || len(cfg.RetentionPlans) != 0 {
		t.Fatalf("expected retention loop disabled by default, got %s / %v", cfg.RetentionInterval, cfg.RetentionPlans)
	}
	if cfg.MaxDecompressedBytes < cfg.MaxRequestBodyBytes {
		t.Fatalf("decompressed limit %d below body limit %d", cfg.MaxDecompressedBytes, cfg.MaxRequestBodyBytes)
	}
}

func TestLoadRetentionLoopNeedsPlans(t *testing.T) {
	t.Setenv("TSUISEKI_RETENTION_INTERVAL", "1h")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TSUISEKI_RETENTION_PLANS") {
		t.Fatalf("expected error about missing plans, got: %v", err)
	}

	t.Setenv("TSUISEKI_RETENTION_PLANS", "hobby:720h")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.RetentionPlans) != 1 || cfg.RetentionPlans[0].Name != "hobby" {
		t.Fatalf("unexpected plans: %v", cfg.RetentionPlans)
	}
}

func TestLoadRejectsSmallDecompressedLimit(t *testing.T) {
	t.Setenv("TSUISEKI_MAX_REQUEST_BODY_BYTES", "1024")
	t.Setenv("TSUISEKI_MAX_DECOMPRESSED_BYTES", "512")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject a decompressed limit below the body limit")
	}
}

func TestParseRetentionPlans(t *testing.T) {
	plans, err := ParseRetentionPlans(" hobby:720h, pro:2160h ,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []RetentionPlan{{Name: "hobby", TTL: 720 * time.Hour}, {Name: "pro", TTL: 2160 * time.Hour}}
	if len(plans) != len(want) {
		t.Fatalf("expected %d plans, got %v", len(want), plans)
	}
	for i := range want {
		if plans[i] != want[i] {
			t.Fatalf("plan %d: expected %v, got %v", i, want[i], plans[i])
		}
	}

	plans, err = ParseRetentionPlans("")
	if err != nil || len(plans) != 0 {
		t.Fatalf("expected no plans for empty input, got %v, %v", plans, err)
	}
}

func TestParseRetentionPlansInvalid(t *testing.T) {
	for _, in := range []string{"hobby", ":720h", "hobby:forever", "hobby:-1h", "hobby:1h,hobby:2h"} {
		if _, err := ParseRetentionPlans(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
