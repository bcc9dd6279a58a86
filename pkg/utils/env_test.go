package utils

import (
	"testing"
	"time"
)

func TestEnvOrDefault(t *testing.T) {
	const key = "STORD_TEST_STRING"
	ClearEnvCache(key)
	if got := EnvOrDefault(key, "fallback"); got != "fallback" {
		t.Fatalf("unset: got %q", got)
	}
	t.Setenv(key, "value")
	ClearEnvCache(key)
	if got := EnvOrDefault(key, "fallback"); got != "value" {
		t.Fatalf("set: got %q", got)
	}
}

func TestEnvOrDefaultInt(t *testing.T) {
	const key = "STORD_TEST_INT"
	t.Setenv(key, "not a number")
	ClearEnvCache(key)
	if got := EnvOrDefaultInt(key, 7); got != 7 {
		t.Fatalf("unparsable: got %d", got)
	}
	t.Setenv(key, "42")
	ClearEnvCache(key)
	if got := EnvOrDefaultInt(key, 7); got != 42 {
		t.Fatalf("set: got %d", got)
	}
}

func TestEnvOrDefaultDuration(t *testing.T) {
	const key = "STORD_TEST_DURATION"
	ClearEnvCache(key)
	if got := EnvOrDefaultDuration(key, time.Minute); got != time.Minute {
		t.Fatalf("unset: got %v", got)
	}
	t.Setenv(key, "90s")
	ClearEnvCache(key)
	if got := EnvOrDefaultDuration(key, time.Minute); got != 90*time.Second {
		t.Fatalf("set: got %v", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("nil error should stay nil")
	}
}
