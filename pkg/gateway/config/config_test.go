package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error = %v", err)
	}
	if cfg.Addr != "127.0.0.1:8765" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.LiveModel == "" {
		t.Fatalf("LiveModel empty")
	}
	if cfg.Temperature != 0.1 {
		t.Fatalf("Temperature=%v, want 0.1", cfg.Temperature)
	}
	if cfg.MaxOutputTokens != 160 {
		t.Fatalf("MaxOutputTokens=%d, want 160", cfg.MaxOutputTokens)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("SessionTTL=%v, want 2h", cfg.SessionTTL)
	}
	if cfg.SessionCap != 200 {
		t.Fatalf("SessionCap=%d, want 200", cfg.SessionCap)
	}
	if cfg.SpeechThreshold != 0.01 {
		t.Fatalf("SpeechThreshold=%v, want 0.01", cfg.SpeechThreshold)
	}
	if cfg.ReadPoll != 300*time.Millisecond {
		t.Fatalf("ReadPoll=%v, want 300ms", cfg.ReadPoll)
	}
	if cfg.StopGrace != 600*time.Millisecond {
		t.Fatalf("StopGrace=%v, want 600ms", cfg.StopGrace)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("AQUAL_ADDR", "0.0.0.0:9000")
	t.Setenv("GEMINI_API_KEY", "  key-123  ")
	t.Setenv("AQUAL_LIVE_MODEL", "custom-live")
	t.Setenv("AQUAL_LIVE_MODEL_FALLBACKS", "fb-1, fb-2 ,,")
	t.Setenv("AQUAL_SESSION_TTL", "45m")
	t.Setenv("AQUAL_SPEECH_THRESHOLD", "0.05")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error = %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.GeminiAPIKey != "key-123" {
		t.Fatalf("GeminiAPIKey=%q", cfg.GeminiAPIKey)
	}
	if cfg.LiveModel != "custom-live" {
		t.Fatalf("LiveModel=%q", cfg.LiveModel)
	}
	if len(cfg.LiveModelFallbacks) != 2 || cfg.LiveModelFallbacks[1] != "fb-2" {
		t.Fatalf("LiveModelFallbacks=%v", cfg.LiveModelFallbacks)
	}
	if cfg.SessionTTL != 45*time.Minute {
		t.Fatalf("SessionTTL=%v", cfg.SessionTTL)
	}
	if cfg.SpeechThreshold != 0.05 {
		t.Fatalf("SpeechThreshold=%v", cfg.SpeechThreshold)
	}
}

func TestLoadFromEnv_ClampsGenerationKnobs(t *testing.T) {
	t.Setenv("AQUAL_LIVE_TEMPERATURE", "7.5")
	t.Setenv("AQUAL_LIVE_MAX_OUTPUT_TOKENS", "4")
	t.Setenv("AQUAL_LIVE_THINKING_BUDGET", "999999")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error = %v", err)
	}
	if cfg.Temperature != 2 {
		t.Fatalf("Temperature=%v, want clamped to 2", cfg.Temperature)
	}
	if cfg.MaxOutputTokens != 32 {
		t.Fatalf("MaxOutputTokens=%d, want clamped to 32", cfg.MaxOutputTokens)
	}
	if cfg.ThinkingBudget != 32768 {
		t.Fatalf("ThinkingBudget=%d, want clamped to 32768", cfg.ThinkingBudget)
	}
}

func TestLoadFromEnv_Rejects(t *testing.T) {
	cases := []struct {
		key string
		val string
	}{
		{"AQUAL_SESSION_TTL", "-1s"},
		{"AQUAL_SESSION_CAP", "0"},
		{"AQUAL_SPEECH_THRESHOLD", "1.5"},
		{"AQUAL_READ_POLL", "-5ms"},
		{"AQUAL_RING_CAPACITY", "-1"},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			t.Setenv(c.key, c.val)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", c.key, c.val)
			}
		})
	}
}

func TestModels_RankedAndDeduplicated(t *testing.T) {
	cfg := Config{
		LiveModel:          "primary",
		LiveModelFallbacks: []string{"backup", "primary", "", "backup"},
	}
	got := cfg.Models()
	if len(got) != 2 || got[0] != "primary" || got[1] != "backup" {
		t.Fatalf("Models()=%v", got)
	}
}
