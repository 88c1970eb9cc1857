// Package session runs one live voice session: a duplex relay between
// the client WebSocket and a remote streaming model.
//
// Lifecycle: CONNECTING -> READY -> (remote drop) -> RECONNECTING ->
// READY -> ... -> STOPPED. The remote leg reconnects with a capped
// linear backoff and a stored resumption handle; the client leg lives
// for the whole session. Two pumps move data per remote connection:
// the client pump forwards microphone audio and pending page context,
// the remote pump decodes model events into protocol frames and feeds
// the turn accumulator. A supersession claim bounds everything: when
// another connection takes the slot, both pumps observe the stale
// claim within one poll interval and wind down.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aqual-ai/aqual-gateway/pkg/core/audio"
	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/protocol"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/sessions"
)

var (
	errStopped    = errors.New("session stopped")
	errSuperseded = errors.New("session superseded")
	errClientGone = errors.New("client connection closed")
)

// Config carries the per-session knobs. Zero values are defaulted in
// New except Model, which is required.
type Config struct {
	Model             string
	SystemInstruction string
	Temperature       float64
	MaxOutputTokens   int
	ThinkingBudget    int

	// SpeechThreshold is the normalized peak amplitude above which a
	// client audio frame counts as local speech evidence.
	SpeechThreshold float64

	MaxImageBytes   int
	InputAudioMIME  string
	OutputAudioMIME string

	// ReadPoll bounds how long either pump waits before re-checking
	// the stop and supersession flags.
	ReadPoll time.Duration

	// StopGrace bounds how long connection teardown waits for the
	// second pump to join.
	StopGrace time.Duration
}

type Dependencies struct {
	Conn   ClientConn
	Dialer realtime.Dialer
	Store  *sessions.Store
	Claim  *sessions.Claim
	Logger *slog.Logger
	Config Config
}

// Supervisor owns one client WebSocket and however many remote
// connections it takes to serve it.
type Supervisor struct {
	conn   ClientConn
	dialer realtime.Dialer
	store  *sessions.Store
	claim  *sessions.Claim
	logger *slog.Logger
	cfg    Config

	frames     chan []byte
	readerDone chan struct{}
	stopped    atomic.Bool

	turnSeq atomic.Int64
	turn    turn

	// sendMu serializes sends on the current remote connection.
	sendMu sync.Mutex

	stateMu        sync.Mutex
	conversationID string
	pendingMedia   *mediaPayload
	pendingText    string
}

type mediaPayload struct {
	data []byte
	mime string
}

func New(deps Dependencies) (*Supervisor, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("session: client conn is required")
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if deps.Claim == nil {
		return nil, fmt.Errorf("session: claim is required")
	}
	if deps.Config.Model == "" {
		return nil, fmt.Errorf("session: model is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Config.SpeechThreshold <= 0 {
		deps.Config.SpeechThreshold = 0.01
	}
	if deps.Config.MaxImageBytes <= 0 {
		deps.Config.MaxImageBytes = 8 << 20
	}
	if deps.Config.InputAudioMIME == "" {
		deps.Config.InputAudioMIME = "audio/pcm;rate=24000"
	}
	if deps.Config.OutputAudioMIME == "" {
		deps.Config.OutputAudioMIME = "audio/pcm;rate=24000"
	}
	if deps.Config.ReadPoll <= 0 {
		deps.Config.ReadPoll = 300 * time.Millisecond
	}
	if deps.Config.StopGrace <= 0 {
		deps.Config.StopGrace = 600 * time.Millisecond
	}
	return &Supervisor{
		conn:       deps.Conn,
		dialer:     deps.Dialer,
		store:      deps.Store,
		claim:      deps.Claim,
		logger:     deps.Logger,
		cfg:        deps.Config,
		frames:     make(chan []byte, 32),
		readerDone: make(chan struct{}),
	}, nil
}

// Run drives the session until the client stops it, the slot is
// superseded, the client socket dies, or ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.claim.Release()
	go s.readLoop()

	s.emit(protocol.NewStatus(protocol.StatusConnecting, s.conversation()))

	attempt := 0
	handleFailures := 0
	for {
		if err := s.checkLive(ctx); err != nil {
			return s.finish(err)
		}

		opts := realtime.DialOptions{
			Model:             s.cfg.Model,
			ResumeHandle:      s.store.Handle(s.conversation()),
			SystemInstruction: s.cfg.SystemInstruction,
			Temperature:       s.cfg.Temperature,
			MaxOutputTokens:   s.cfg.MaxOutputTokens,
			ThinkingBudget:    s.cfg.ThinkingBudget,
		}
		rs, err := s.dialer.Dial(ctx, opts)
		if err != nil {
			if opts.ResumeHandle != "" {
				// One failure may be a transient outage; a second dial
				// refused with the same handle points at the handle
				// itself, so drop it and start fresh.
				handleFailures++
				if handleFailures >= 2 {
					s.store.ClearHandle(s.conversation())
				}
			}
			attempt++
			s.logger.Warn("remote dial failed", "model", s.cfg.Model, "attempt", attempt, "error", err)
			s.emit(protocol.NewStatus(protocol.StatusReconnecting, s.conversation()))
			if err := s.pause(ctx, attempt); err != nil {
				return s.finish(err)
			}
			continue
		}
		attempt = 0
		handleFailures = 0
		s.logger.Info("remote session connected", "model", s.cfg.Model, "resumed", opts.ResumeHandle != "")
		s.emit(protocol.NewStatus(protocol.StatusReady, s.conversation()))
		s.emit(protocol.NewStatus(protocol.StatusListening, s.conversation()))

		runErr := s.runConnection(ctx, rs)
		_ = rs.Close()
		if err := s.checkLive(ctx); err != nil {
			return s.finish(err)
		}

		attempt++
		s.logger.Info("remote connection ended, reconnecting", "error", runErr)
		s.emit(protocol.NewStatus(protocol.StatusReconnecting, s.conversation()))
		if err := s.pause(ctx, attempt); err != nil {
			return s.finish(err)
		}
	}
}

func (s *Supervisor) finish(cause error) error {
	switch {
	case errors.Is(cause, errStopped), errors.Is(cause, errSuperseded), errors.Is(cause, errClientGone):
		s.logger.Info("live session ended", "reason", cause)
		return nil
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		s.logger.Info("live session canceled")
		return nil
	default:
		return cause
	}
}

// checkLive reports why the session should wind down, or nil.
func (s *Supervisor) checkLive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.stopped.Load() {
		return errStopped
	}
	if !s.claim.Active() {
		return errSuperseded
	}
	select {
	case <-s.readerDone:
		return errClientGone
	default:
	}
	return nil
}

// pause waits out the reconnect delay while staying responsive to
// stop, supersession, and client loss.
func (s *Supervisor) pause(ctx context.Context, attempt int) error {
	deadline := time.After(reconnectDelay(attempt))
	ticker := time.NewTicker(s.cfg.ReadPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.readerDone:
			return errClientGone
		case <-deadline:
			return nil
		case <-ticker.C:
			if err := s.checkLive(ctx); err != nil {
				return err
			}
		}
	}
}

// runConnection serves one remote connection with both pumps and joins
// them on the way out: whichever pump fails first wins, the other is
// canceled and given StopGrace to exit.
func (s *Supervisor) runConnection(ctx context.Context, rs realtime.Session) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- s.clientPump(connCtx, rs) }()
	go func() { done <- s.remotePump(connCtx, rs) }()

	err := <-done
	cancel()
	_ = rs.Close()
	select {
	case <-done:
	case <-time.After(s.cfg.StopGrace):
		s.logger.Warn("pump did not stop within grace period")
	}
	return err
}

// readLoop is the only reader of the client socket. It decodes control
// frames inline (so stop and ping work even while the remote leg is
// reconnecting) and queues audio for the client pump, dropping frames
// under backpressure rather than blocking the socket.
func (s *Supervisor) readLoop() {
	defer close(s.readerDone)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.stopped.Load() {
				s.logger.Debug("client read ended", "error", err)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			select {
			case s.frames <- data:
			default:
				s.logger.Debug("audio frame dropped, queue full", "bytes", len(data))
			}
		case websocket.TextMessage:
			s.handleControl(data)
			if s.stopped.Load() {
				return
			}
		}
	}
}

func (s *Supervisor) handleControl(data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		// A malformed frame must never take the session down.
		s.logger.Debug("ignoring malformed client frame", "error", err)
		return
	}
	switch m := msg.(type) {
	case *protocol.ClientPing:
		s.emit(protocol.NewPong())
	case *protocol.ClientStop:
		s.logger.Info("client requested stop")
		s.stopped.Store(true)
	case *protocol.ClientContext:
		s.applyContext(m)
	}
}

// applyContext updates the conversation id and stages page context for
// the next flush. The screenshot is dedup-gated here, before it is
// staged, so an unchanged capture costs no remote bandwidth.
func (s *Supervisor) applyContext(m *protocol.ClientContext) {
	convID := sessions.SanitizeConversationID(m.ConversationID)

	s.stateMu.Lock()
	s.conversationID = convID
	if m.PageURL != "" {
		s.pendingText = "Current page: " + m.PageURL
	}
	s.stateMu.Unlock()

	if m.ScreenshotDataURL == "" {
		return
	}
	data, mime, err := audio.DecodeDataURL(m.ScreenshotDataURL)
	if err != nil {
		s.logger.Debug("ignoring bad screenshot payload", "error", err)
		return
	}
	if len(data) > s.cfg.MaxImageBytes {
		s.logger.Debug("ignoring oversized screenshot", "bytes", len(data))
		return
	}
	fp := sessions.Fingerprint(data)
	if !s.store.ShouldSendScreenshot(convID, fp) {
		s.logger.Debug("screenshot unchanged, skipping", "hash", fp)
		return
	}
	s.stateMu.Lock()
	s.pendingMedia = &mediaPayload{data: data, mime: mime}
	s.stateMu.Unlock()
}

// clientPump forwards queued audio to the remote session. The bounded
// select keeps it responsive to stop and supersession even when the
// client goes quiet.
func (s *Supervisor) clientPump(ctx context.Context, rs realtime.Session) error {
	for {
		if err := s.checkLive(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pcm := <-s.frames:
			s.turn.noteLocalAudio(pcm, s.cfg.SpeechThreshold)
			if err := s.flushPending(ctx, rs); err != nil {
				return fmt.Errorf("flush context: %w", err)
			}
			s.sendMu.Lock()
			err := rs.SendAudio(ctx, pcm, s.cfg.InputAudioMIME)
			s.sendMu.Unlock()
			if err != nil {
				return fmt.Errorf("forward audio: %w", err)
			}
		case <-time.After(s.cfg.ReadPoll):
		}
	}
}

// remotePump decodes remote events into client frames and turn state.
func (s *Supervisor) remotePump(ctx context.Context, rs realtime.Session) error {
	for {
		if err := s.checkLive(ctx); err != nil {
			return err
		}
		ev, err := rs.Receive(ctx)
		if err != nil {
			return fmt.Errorf("remote receive: %w", err)
		}
		switch ev := ev.(type) {
		case realtime.ActivityStart:
			s.turn.noteVoiceActivity()
			s.emit(protocol.NewStatus(protocol.StatusListening, s.conversation()))
			if err := s.flushPending(ctx, rs); err != nil {
				return fmt.Errorf("flush context: %w", err)
			}
		case realtime.InputTranscript:
			s.emit(protocol.NewInputTranscript(s.turn.addInput(ev.Text)))
		case realtime.OutputText:
			s.turn.addOutput(ev.Text)
			if s.turn.markResponding() {
				s.emit(protocol.NewStatus(protocol.StatusResponding, s.conversation()))
			}
		case realtime.OutputAudio:
			s.turn.addAudio(len(ev.Data))
			if s.turn.markResponding() {
				s.emit(protocol.NewStatus(protocol.StatusResponding, s.conversation()))
			}
			mime := ev.MIMEType
			if mime == "" {
				mime = s.cfg.OutputAudioMIME
			}
			// Streamed under the id the turn will get when it lands.
			s.emit(protocol.NewAudioChunk(s.turnSeq.Load()+1, base64.StdEncoding.EncodeToString(ev.Data), mime))
		case realtime.TurnComplete:
			s.finishTurn()
		case realtime.ResumptionUpdate:
			if ev.Handle != "" {
				s.store.SetHandle(s.conversation(), ev.Handle)
			}
		case realtime.GoAway:
			s.logger.Info("remote session ending soon")
		}
	}
}

// finishTurn settles the accumulated turn: phantom turns vanish,
// real ones get the next monotonic id.
func (s *Supervisor) finishTurn() {
	answer, keep := s.turn.finalize()
	if keep {
		id := s.turnSeq.Add(1)
		s.emit(protocol.NewTurnResult(id, answer, s.cfg.Model))
		s.logger.Info("turn complete", "turn_id", id, "answer_len", len(answer))
	} else {
		s.logger.Debug("turn discarded")
	}
	s.turn.reset()
	s.emit(protocol.NewStatus(protocol.StatusListening, s.conversation()))
}

// flushPending pushes staged page context to the remote session. On
// failure the payload is restored so the reconnected session can carry
// it.
func (s *Supervisor) flushPending(ctx context.Context, rs realtime.Session) error {
	s.stateMu.Lock()
	media := s.pendingMedia
	text := s.pendingText
	s.pendingMedia = nil
	s.pendingText = ""
	s.stateMu.Unlock()
	if media == nil && text == "" {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if media != nil {
		if err := rs.SendMedia(ctx, media.data, media.mime); err != nil {
			s.restorePending(media, text)
			return err
		}
		s.logger.Debug("screenshot sent", "bytes", len(media.data))
	}
	if text != "" {
		if err := rs.SendText(ctx, text); err != nil {
			s.restorePending(nil, text)
			return err
		}
	}
	return nil
}

func (s *Supervisor) restorePending(media *mediaPayload, text string) {
	s.stateMu.Lock()
	if media != nil && s.pendingMedia == nil {
		s.pendingMedia = media
	}
	if text != "" && s.pendingText == "" {
		s.pendingText = text
	}
	s.stateMu.Unlock()
}

func (s *Supervisor) conversation() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.conversationID
}

// emit pushes one frame to the client. A write failure marks the
// session stopped; the pumps notice on their next poll.
func (s *Supervisor) emit(v any) {
	if err := s.conn.WriteJSON(v); err != nil {
		if !s.stopped.Swap(true) {
			s.logger.Debug("client write failed", "error", err)
		}
	}
}
