package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/config"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/protocol"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/session"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/sessions"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/mw"
)

// LiveHandler serves /v1/live: one WebSocket per voice session.
type LiveHandler struct {
	Config  config.Config
	Dialer  realtime.Dialer
	Store   *sessions.Store
	Slots   *sessions.Registry
	Logger  *slog.Logger
	Metrics *mw.Metrics
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use a websocket GET")
		return
	}
	if h.Dialer == nil {
		mw.WriteJSONError(w, http.StatusServiceUnavailable, "not_configured", "GEMINI_API_KEY is not set")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: originChecker(h.Config.AllowedOrigins),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(int64(h.Config.MaxAudioBytes))

	sessionID := "ls_" + mw.RandHex(8)
	logger := h.Logger.With("session_id", sessionID)

	slot := sessions.SanitizeConversationID(r.URL.Query().Get("slot"))
	if slot == "" {
		slot = "default"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	claim := h.Slots.Claim(slot, func() {
		if h.Metrics != nil {
			h.Metrics.Supersessions.Inc()
		}
		cancel()
	})

	wrapped := session.WrapConn(conn)
	sup, err := session.New(session.Dependencies{
		Conn:   wrapped,
		Dialer: h.Dialer,
		Store:  h.Store,
		Claim:  claim,
		Logger: logger,
		Config: session.Config{
			Model:             h.Config.LiveModel,
			SystemInstruction: h.Config.SystemInstruction,
			Temperature:       h.Config.Temperature,
			MaxOutputTokens:   h.Config.MaxOutputTokens,
			ThinkingBudget:    h.Config.ThinkingBudget,
			SpeechThreshold:   h.Config.SpeechThreshold,
			MaxImageBytes:     h.Config.MaxImageBytes,
			InputAudioMIME:    h.Config.InputAudioMIME,
			ReadPoll:          h.Config.ReadPoll,
			StopGrace:         h.Config.StopGrace,
		},
	})
	if err != nil {
		claim.Release()
		logger.Error("live session setup failed", "error", err)
		_ = wrapped.WriteJSON(protocol.NewError("session setup failed"))
		return
	}

	if h.Metrics != nil {
		h.Metrics.LiveSessions.Inc()
		defer h.Metrics.LiveSessions.Dec()
	}
	logger.Info("live session started", "slot", slot, "token", claim.Token())
	if err := sup.Run(ctx); err != nil {
		logger.Error("live session failed", "error", err)
		_ = wrapped.WriteJSON(protocol.NewError("live session failed"))
		return
	}
	_ = wrapped.Close()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
