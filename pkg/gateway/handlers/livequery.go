package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aqual-ai/aqual-gateway/pkg/core/audio"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/config"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/query"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/mw"
)

// LiveQueryHandler serves /v1/live-query: the HTTP fallback for
// clients that cannot hold a WebSocket. One request, one spoken turn,
// one answer with synthesized WAV audio.
type LiveQueryHandler struct {
	Config config.Config
	Runner *query.Runner
	Logger *slog.Logger
}

type liveQueryRequest struct {
	AudioData         string `json:"audioData"`
	AudioMimeType     string `json:"audioMimeType"`
	ScreenshotDataURL string `json:"screenshotDataUrl"`
	ScreenshotData    string `json:"screenshotData"`
	ScreenshotMime    string `json:"screenshotMimeType"`
	PageURL           string `json:"pageUrl"`
	ConversationID    string `json:"conversationId"`
}

type liveQueryDebug struct {
	ScreenshotSent bool     `json:"screenshotSent"`
	ScreenshotHash string   `json:"screenshotHash,omitempty"`
	Attempts       []string `json:"attempts,omitempty"`
	ElapsedMS      int64    `json:"elapsedMs"`
}

type liveQueryResponse struct {
	Answer        string         `json:"answer"`
	Transcript    string         `json:"transcript"`
	Model         string         `json:"model"`
	AudioBase64   string         `json:"audioBase64,omitempty"`
	AudioMimeType string         `json:"audioMimeType,omitempty"`
	Debug         liveQueryDebug `json:"debug"`
}

func (h LiveQueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if h.Runner == nil {
		mw.WriteJSONError(w, http.StatusServiceUnavailable, "not_configured", "GEMINI_API_KEY is not set")
		return
	}

	// Base64 inflates payloads by a third; double the raw budgets.
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.Config.MaxAudioBytes+h.Config.MaxImageBytes)*2)
	var req liveQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	pcm, err := audio.DecodeBase64(req.AudioData, h.Config.MaxAudioBytes)
	if err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "audioData: "+err.Error())
		return
	}
	audioMIME := req.AudioMimeType
	if audioMIME == "" {
		audioMIME = h.Config.InputAudioMIME
	}

	var shot []byte
	shotMIME := ""
	switch {
	case req.ScreenshotDataURL != "":
		shot, shotMIME, err = audio.DecodeDataURL(req.ScreenshotDataURL)
		if err != nil {
			mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "screenshotDataUrl: "+err.Error())
			return
		}
	case req.ScreenshotData != "":
		shot, err = audio.DecodeBase64(req.ScreenshotData, h.Config.MaxImageBytes)
		if err != nil {
			mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "screenshotData: "+err.Error())
			return
		}
		shotMIME = req.ScreenshotMime
	}
	if len(shot) > h.Config.MaxImageBytes {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "screenshot too large")
		return
	}
	if shotMIME == "" && shot != nil {
		shotMIME = "image/png"
	}

	res, err := h.Runner.Run(r.Context(), query.Request{
		ConversationID: req.ConversationID,
		AudioPCM:       pcm,
		AudioMIME:      audioMIME,
		Screenshot:     shot,
		ScreenshotMIME: shotMIME,
		PageURL:        req.PageURL,
	})
	if err != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		h.Logger.Error("live query failed", "request_id", reqID, "error", err)
		mw.WriteJSONError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	resp := liveQueryResponse{
		Answer:     res.Answer,
		Transcript: res.Transcript,
		Model:      res.Model,
		Debug: liveQueryDebug{
			ScreenshotSent: res.Debug.ScreenshotSent,
			ScreenshotHash: res.Debug.ScreenshotHash,
			Attempts:       res.Debug.Attempts,
			ElapsedMS:      res.Debug.ElapsedMS,
		},
	}
	if len(res.AudioPCM) > 0 {
		rate := audio.RateFromMIME(res.AudioMIME, audio.DefaultRate)
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(audio.WAVFromPCM16(res.AudioPCM, rate))
		resp.AudioMimeType = "audio/wav"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
