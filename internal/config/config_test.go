package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.ReasoningDebounce != 1500*time.Millisecond {
		t.Fatalf("ReasoningDebounce = %v, want 1.5s", cfg.ReasoningDebounce)
	}
	if cfg.ReasoningWaitCeiling != 10*time.Second {
		t.Fatalf("ReasoningWaitCeiling = %v, want 10s", cfg.ReasoningWaitCeiling)
	}
	if cfg.TTSHandleTTL != 5*time.Minute {
		t.Fatalf("TTSHandleTTL = %v, want 5m", cfg.TTSHandleTTL)
	}
	if cfg.HRRAppID != "" || cfg.HRRAppKey != "" {
		t.Fatalf("expected empty HRR credentials by default")
	}
}

func TestLoadAllowsScriptedDebounceOverride(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REASONING_DEBOUNCE", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReasoningDebounce != 0 {
		t.Fatalf("ReasoningDebounce = %v, want 0", cfg.ReasoningDebounce)
	}
}

func TestLoadRejectsInvalidWaitCeiling(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REASONING_WAIT_CEILING", "0s")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-positive REASONING_WAIT_CEILING")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"HRR_BASE_URL",
		"HRR_APP_ID",
		"HRR_APP_KEY",
		"HRR_TIMEOUT",
		"HRR_SESSION_TTL",
		"STT_BASE_URL",
		"STT_API_KEY",
		"STT_TIMEOUT",
		"LLM_BASE_URL",
		"LLM_API_KEY",
		"LLM_MODEL",
		"LLM_TIMEOUT",
		"LLM_STREAM_IDLE_TIMEOUT",
		"TTS_BASE_URL",
		"TTS_API_KEY",
		"TTS_VOICE",
		"TTS_TIMEOUT",
		"REASONING_DEBOUNCE",
		"REASONING_WAIT_CEILING",
		"REASONING_MODEL_OVERRIDE",
		"TTS_HANDLE_TTL",
		"EVENT_KEEPALIVE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
