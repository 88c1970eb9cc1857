// Package config loads gateway configuration from the environment.
// Every knob has a default good enough for local use; the only value
// the gateway cannot run without is GEMINI_API_KEY.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSystemInstruction = "You are AQual, an accessibility assistant. " +
	"Respond naturally in English. " +
	"Do not include internal reasoning, analysis steps, or headings. " +
	"Keep spoken replies short: one sentence when possible, at most two."

type Config struct {
	Addr string

	GeminiAPIKey       string
	LiveModel          string
	LiveModelFallbacks []string
	SystemInstruction  string

	Temperature     float64
	MaxOutputTokens int
	ThinkingBudget  int

	SessionTTL time.Duration
	SessionCap int

	SpeechThreshold float64
	MaxAudioBytes   int
	MaxImageBytes   int
	InputAudioMIME  string

	ReadPoll    time.Duration
	StopGrace   time.Duration
	TurnTimeout time.Duration

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	AllowedOrigins []string
	RingCapacity   int
	ShutdownGrace  time.Duration
}

// LoadFromEnv reads and validates the configuration. Out-of-range
// generation knobs are clamped rather than rejected so a fat-fingered
// .env never takes the assistant down.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr: envOr("AQUAL_ADDR", "127.0.0.1:8765"),

		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		LiveModel:          envOr("AQUAL_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
		LiveModelFallbacks: splitCSV(envOr("AQUAL_LIVE_MODEL_FALLBACKS", "gemini-2.5-flash-native-audio-preview-09-2025")),
		SystemInstruction:  envOr("AQUAL_SYSTEM_INSTRUCTION", defaultSystemInstruction),

		Temperature:     clampFloat(envFloat64Or("AQUAL_LIVE_TEMPERATURE", 0.1), 0, 2),
		MaxOutputTokens: clampInt(envIntOr("AQUAL_LIVE_MAX_OUTPUT_TOKENS", 160), 32, 2048),
		ThinkingBudget:  clampInt(envIntOr("AQUAL_LIVE_THINKING_BUDGET", 0), 0, 32768),

		SessionTTL: envDurationOr("AQUAL_SESSION_TTL", 2*time.Hour),
		SessionCap: envIntOr("AQUAL_SESSION_CAP", 200),

		SpeechThreshold: envFloat64Or("AQUAL_SPEECH_THRESHOLD", 0.01),
		MaxAudioBytes:   envIntOr("AQUAL_MAX_AUDIO_BYTES", 10<<20),
		MaxImageBytes:   envIntOr("AQUAL_MAX_IMAGE_BYTES", 8<<20),
		InputAudioMIME:  envOr("AQUAL_INPUT_AUDIO_MIME", "audio/pcm;rate=24000"),

		ReadPoll:    envDurationOr("AQUAL_READ_POLL", 300*time.Millisecond),
		StopGrace:   envDurationOr("AQUAL_STOP_GRACE", 600*time.Millisecond),
		TurnTimeout: envDurationOr("AQUAL_TURN_TIMEOUT", 30*time.Second),

		ElevenLabsAPIKey:  strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsVoiceID: envOr("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),

		AllowedOrigins: splitCSV(os.Getenv("AQUAL_ALLOWED_ORIGINS")),
		RingCapacity:   envIntOr("AQUAL_RING_CAPACITY", 500),
		ShutdownGrace:  envDurationOr("AQUAL_SHUTDOWN_GRACE", 5*time.Second),
	}

	if cfg.Addr == "" {
		return Config{}, fmt.Errorf("AQUAL_ADDR must not be empty")
	}
	if cfg.LiveModel == "" {
		return Config{}, fmt.Errorf("AQUAL_LIVE_MODEL must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("AQUAL_SESSION_TTL must be > 0")
	}
	if cfg.SessionCap <= 0 {
		return Config{}, fmt.Errorf("AQUAL_SESSION_CAP must be > 0")
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1 {
		return Config{}, fmt.Errorf("AQUAL_SPEECH_THRESHOLD must be in (0, 1)")
	}
	if cfg.MaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("AQUAL_MAX_AUDIO_BYTES must be > 0")
	}
	if cfg.MaxImageBytes <= 0 {
		return Config{}, fmt.Errorf("AQUAL_MAX_IMAGE_BYTES must be > 0")
	}
	if cfg.ReadPoll <= 0 {
		return Config{}, fmt.Errorf("AQUAL_READ_POLL must be > 0")
	}
	if cfg.StopGrace <= 0 {
		return Config{}, fmt.Errorf("AQUAL_STOP_GRACE must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("AQUAL_TURN_TIMEOUT must be > 0")
	}
	if cfg.RingCapacity <= 0 {
		return Config{}, fmt.Errorf("AQUAL_RING_CAPACITY must be > 0")
	}
	return cfg, nil
}

// Models returns the ranked model list: primary first, then fallbacks,
// deduplicated.
func (c Config) Models() []string {
	out := []string{c.LiveModel}
	seen := map[string]struct{}{c.LiveModel: {}}
	for _, m := range c.LiveModelFallbacks {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
