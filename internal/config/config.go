package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the tutoring backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	HRRBaseURL string
	HRRAppID   string
	HRRAppKey  string
	HRRTimeout time.Duration

	STTBaseURL string
	STTAPIKey  string
	STTTimeout time.Duration

	LLMBaseURL           string
	LLMAPIKey            string
	LLMModel             string
	LLMTimeout           time.Duration
	LLMStreamIdleTimeout time.Duration

	TTSBaseURL string
	TTSAPIKey  string
	TTSVoice   string
	TTSTimeout time.Duration

	// ReasoningDebounce is the configured quiet period after the last stroke
	// before a reasoning pass. Load reads and validates it, but nothing
	// passes it on: the reasoning scheduler always waits its own
	// DebounceInterval constant, so setting it does not change a run.
	ReasoningDebounce time.Duration
	// ReasoningWaitCeiling is the configured bound on waiting for the
	// transcription-ready signal. Load reads and validates it; the reasoning
	// scheduler uses its own WaitCeiling constant instead.
	ReasoningWaitCeiling time.Duration
	// ReasoningModelOverride lets benchmarking harnesses pin a specific
	// upstream model id instead of the configured default.
	ReasoningModelOverride string

	// TTSHandleTTL is the configured lifetime of an unclaimed TTS handle. It
	// is loaded but not passed on; the registry sweeps with its own TTL
	// constant.
	TTSHandleTTL time.Duration
	// EventKeepalive is the configured idle interval between SSE keepalive
	// comments. It is loaded but not passed on; the SSE handler uses the
	// events.Keepalive constant.
	EventKeepalive time.Duration
	// HRRSessionTTL is how long an HRR stroke session may be reused.
	HRRSessionTTL time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "reef"),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),

		HRRBaseURL: envOrDefault("HRR_BASE_URL", "https://api.mathpix.com"),
		HRRAppID:   stringsTrimSpace("HRR_APP_ID"),
		HRRAppKey:  stringsTrimSpace("HRR_APP_KEY"),

		STTBaseURL: envOrDefault("STT_BASE_URL", ""),
		STTAPIKey:  stringsTrimSpace("STT_API_KEY"),

		LLMBaseURL: envOrDefault("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMAPIKey:  stringsTrimSpace("LLM_API_KEY"),
		LLMModel:   envOrDefault("LLM_MODEL", "google/gemini-3-flash-preview"),

		TTSBaseURL: envOrDefault("TTS_BASE_URL", "https://api.deepinfra.com/v1/openai/audio/speech"),
		TTSAPIKey:  stringsTrimSpace("TTS_API_KEY"),
		TTSVoice:   envOrDefault("TTS_VOICE", "af_heart"),

		ReasoningModelOverride: stringsTrimSpace("REASONING_MODEL_OVERRIDE"),

		ShutdownTimeout:      15 * time.Second,
		HRRTimeout:           30 * time.Second,
		STTTimeout:           60 * time.Second,
		LLMTimeout:           60 * time.Second,
		LLMStreamIdleTimeout: 30 * time.Second,
		TTSTimeout:           30 * time.Second,
		ReasoningDebounce:    1500 * time.Millisecond,
		ReasoningWaitCeiling: 10 * time.Second,
		TTSHandleTTL:         5 * time.Minute,
		EventKeepalive:       25 * time.Second,
		HRRSessionTTL:        4*time.Minute + 30*time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HRRTimeout, err = durationFromEnv("HRR_TIMEOUT", cfg.HRRTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.STTTimeout, err = durationFromEnv("STT_TIMEOUT", cfg.STTTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMStreamIdleTimeout, err = durationFromEnv("LLM_STREAM_IDLE_TIMEOUT", cfg.LLMStreamIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReasoningDebounce, err = durationFromEnv("REASONING_DEBOUNCE", cfg.ReasoningDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.ReasoningWaitCeiling, err = durationFromEnv("REASONING_WAIT_CEILING", cfg.ReasoningWaitCeiling)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSHandleTTL, err = durationFromEnv("TTS_HANDLE_TTL", cfg.TTSHandleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.EventKeepalive, err = durationFromEnv("EVENT_KEEPALIVE", cfg.EventKeepalive)
	if err != nil {
		return Config{}, err
	}
	cfg.HRRSessionTTL, err = durationFromEnv("HRR_SESSION_TTL", cfg.HRRSessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ReasoningDebounce < 0 {
		return Config{}, fmt.Errorf("REASONING_DEBOUNCE must be >= 0")
	}
	if cfg.ReasoningWaitCeiling <= 0 {
		return Config{}, fmt.Errorf("REASONING_WAIT_CEILING must be positive")
	}
	if cfg.TTSHandleTTL <= 0 {
		return Config{}, fmt.Errorf("TTS_HANDLE_TTL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
