package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aqual-ai/aqual-gateway/pkg/gateway/config"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/mw"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsModelID = "eleven_multilingual_v2"
	maxSpeakTextBytes = 8 << 10
)

// SpeakHandler serves /v1/speak: a thin proxy in front of the
// ElevenLabs text-to-speech API, so the extension never holds the
// upstream key.
type SpeakHandler struct {
	Config config.Config
	Logger *slog.Logger

	// Client and BaseURL are overridable for tests.
	Client  *http.Client
	BaseURL string
}

type speakRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

func (h SpeakHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if h.Config.ElevenLabsAPIKey == "" {
		mw.WriteJSONError(w, http.StatusServiceUnavailable, "not_configured", "ELEVENLABS_API_KEY is not set")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSpeakTextBytes*2)
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "text must not be empty")
		return
	}
	if len(req.Text) > maxSpeakTextBytes {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "text too long")
		return
	}
	voice := req.VoiceID
	if voice == "" {
		voice = h.Config.ElevenLabsVoiceID
	}

	body, _ := json.Marshal(map[string]any{
		"text":     req.Text,
		"model_id": elevenLabsModelID,
	})
	base := h.BaseURL
	if base == "" {
		base = elevenLabsBaseURL
	}
	upstreamURL := base + "/v1/text-to-speech/" + url.PathEscape(voice)
	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		mw.WriteJSONError(w, http.StatusInternalServerError, "internal_error", "building upstream request failed")
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Accept", "audio/mpeg")
	upReq.Header.Set("xi-api-key", h.Config.ElevenLabsAPIKey)

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(upReq)
	if err != nil {
		h.Logger.Error("tts upstream unreachable", "error", err)
		mw.WriteJSONError(w, http.StatusBadGateway, "tts_failed", "text-to-speech upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		h.Logger.Error("tts upstream error", "status", resp.StatusCode, "detail", string(detail))
		mw.WriteJSONError(w, http.StatusBadGateway, "tts_failed", "text-to-speech upstream returned an error")
		return
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}
