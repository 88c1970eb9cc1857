// Package handlers holds the HTTP surface of the gateway.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aqual-ai/aqual-gateway/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can actually serve voice
// traffic, with the issues spelled out for the operator.
type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK         bool     `json:"ok"`
		LiveModel  string   `json:"live_model"`
		Fallbacks  []string `json:"fallbacks,omitempty"`
		TTSEnabled bool     `json:"tts_enabled"`
		Issues     []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "GEMINI_API_KEY is not set")
	}
	if h.Config.LiveModel == "" {
		issues = append(issues, "live model is not configured")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:         ok,
		LiveModel:  h.Config.LiveModel,
		Fallbacks:  h.Config.LiveModelFallbacks,
		TTSEnabled: h.Config.ElevenLabsAPIKey != "",
		Issues:     issues,
	})
}
