package main

import (
	"testing"
	"time"

	"delta-keeper/internal/breaker"
)

func TestEnvOrIntReadsAndFallsBack(t *testing.T) {
	t.Setenv("BREAKER_ERROR_THRESHOLD", "25")
	if got := envOrInt("BREAKER_ERROR_THRESHOLD", breaker.DefaultErrorThreshold); got != 25 {
		t.Errorf("envOrInt = %d, want 25", got)
	}

	t.Setenv("BREAKER_ERROR_THRESHOLD", "not-a-number")
	if got := envOrInt("BREAKER_ERROR_THRESHOLD", breaker.DefaultErrorThreshold); got != breaker.DefaultErrorThreshold {
		t.Errorf("envOrInt on garbage = %d, want default %d", got, breaker.DefaultErrorThreshold)
	}
}

func TestEnvOrDurationReadsAndFallsBack(t *testing.T) {
	t.Setenv("BREAKER_COOLDOWN", "90s")
	if got := envOrDuration("BREAKER_COOLDOWN", breaker.DefaultCooldown); got != 90*time.Second {
		t.Errorf("envOrDuration = %s, want 90s", got)
	}

	t.Setenv("BREAKER_COOLDOWN", "")
	if got := envOrDuration("BREAKER_COOLDOWN", breaker.DefaultCooldown); got != breaker.DefaultCooldown {
		t.Errorf("envOrDuration on empty = %s, want default %s", got, breaker.DefaultCooldown)
	}
}
