// Package query runs one-shot voice turns over the same remote
// session surface the live WebSocket uses. It exists for clients that
// cannot hold a socket open: one request carries the whole utterance,
// the response carries the whole answer.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/sessions"
)

// Config carries the ranked model list and generation knobs. Models
// are tried in order until one produces output.
type Config struct {
	Models            []string
	SystemInstruction string
	Temperature       float64
	MaxOutputTokens   int
	ThinkingBudget    int
	TurnTimeout       time.Duration
}

type Dependencies struct {
	Dialer realtime.Dialer
	Store  *sessions.Store
	Logger *slog.Logger
	Config Config
}

type Runner struct {
	dialer realtime.Dialer
	store  *sessions.Store
	logger *slog.Logger
	cfg    Config
}

func New(deps Dependencies) (*Runner, error) {
	if deps.Dialer == nil {
		return nil, fmt.Errorf("query: dialer is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("query: store is required")
	}
	if len(deps.Config.Models) == 0 {
		return nil, fmt.Errorf("query: at least one model is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Config.TurnTimeout <= 0 {
		deps.Config.TurnTimeout = 30 * time.Second
	}
	return &Runner{
		dialer: deps.Dialer,
		store:  deps.Store,
		logger: deps.Logger,
		cfg:    deps.Config,
	}, nil
}

// Request is one utterance plus its page context. ConversationID is
// the raw client value; it is sanitized here.
type Request struct {
	ConversationID string
	AudioPCM       []byte
	AudioMIME      string
	Screenshot     []byte
	ScreenshotMIME string
	PageURL        string
}

type Result struct {
	Answer     string
	Transcript string
	Model      string
	AudioPCM   []byte
	AudioMIME  string
	Debug      Debug
}

// Debug mirrors what operators need when a turn goes wrong in the
// field: which model answered, whether the screenshot went out, and
// what each failed attempt said.
type Debug struct {
	ScreenshotSent bool
	ScreenshotHash string
	Attempts       []string
	ElapsedMS      int64
}

// Run executes the turn against each configured model in rank order.
// An attempt succeeds when the model produced a non-empty answer or
// any audio.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.AudioPCM) == 0 {
		return nil, fmt.Errorf("query: audio payload is empty")
	}
	start := time.Now()

	convID := sessions.SanitizeConversationID(req.ConversationID)
	sendShot := false
	shotHash := ""
	if len(req.Screenshot) > 0 {
		shotHash = sessions.Fingerprint(req.Screenshot)
		sendShot = r.store.ShouldSendScreenshot(convID, shotHash)
		if !sendShot {
			r.logger.Debug("screenshot unchanged, skipping", "conversation_id", convID, "hash", shotHash)
		}
	}

	var attempts []string
	for _, model := range r.cfg.Models {
		res, err := r.runOnce(ctx, model, convID, req, sendShot)
		if err != nil {
			r.logger.Warn("one-shot attempt failed", "model", model, "error", err)
			attempts = append(attempts, fmt.Sprintf("%s: %v", model, err))
			continue
		}
		if res.Answer == "" && len(res.AudioPCM) == 0 {
			r.logger.Warn("one-shot attempt returned nothing", "model", model)
			attempts = append(attempts, model+": empty output")
			continue
		}
		res.Debug = Debug{
			ScreenshotSent: sendShot,
			ScreenshotHash: shotHash,
			Attempts:       attempts,
			ElapsedMS:      time.Since(start).Milliseconds(),
		}
		return res, nil
	}
	return nil, fmt.Errorf("query: all models failed: %s", strings.Join(attempts, "; "))
}

func (r *Runner) runOnce(ctx context.Context, model, convID string, req Request, sendShot bool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TurnTimeout)
	defer cancel()

	rs, err := r.dialer.Dial(ctx, realtime.DialOptions{
		Model:                    model,
		ResumeHandle:             r.store.Handle(convID),
		DisableActivityDetection: true,
		SystemInstruction:        r.cfg.SystemInstruction,
		Temperature:              r.cfg.Temperature,
		MaxOutputTokens:          r.cfg.MaxOutputTokens,
		ThinkingBudget:           r.cfg.ThinkingBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer rs.Close()

	// Activity detection is off, so the turn is bracketed explicitly:
	// context first, then the utterance.
	if err := rs.SendActivityStart(ctx); err != nil {
		return nil, fmt.Errorf("activity start: %w", err)
	}
	if sendShot {
		if err := rs.SendMedia(ctx, req.Screenshot, req.ScreenshotMIME); err != nil {
			return nil, fmt.Errorf("send screenshot: %w", err)
		}
	}
	if req.PageURL != "" {
		if err := rs.SendText(ctx, "Current page: "+req.PageURL); err != nil {
			return nil, fmt.Errorf("send page url: %w", err)
		}
	}
	if err := rs.SendAudio(ctx, req.AudioPCM, req.AudioMIME); err != nil {
		return nil, fmt.Errorf("send audio: %w", err)
	}
	if err := rs.SendActivityEnd(ctx); err != nil {
		return nil, fmt.Errorf("activity end: %w", err)
	}

	var (
		answer     strings.Builder
		transcript strings.Builder
		audioOut   []byte
		audioMIME  string
		newHandle  string
	)
	for {
		ev, err := rs.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("receive: %w", err)
		}
		switch ev := ev.(type) {
		case realtime.InputTranscript:
			transcript.WriteString(ev.Text)
		case realtime.OutputText:
			answer.WriteString(ev.Text)
		case realtime.OutputAudio:
			audioOut = append(audioOut, ev.Data...)
			if audioMIME == "" {
				audioMIME = ev.MIMEType
			}
		case realtime.ResumptionUpdate:
			if ev.Handle != "" {
				newHandle = ev.Handle
			}
		case realtime.TurnComplete:
			if newHandle != "" {
				r.store.SetHandle(convID, newHandle)
			}
			return &Result{
				Answer:     strings.TrimSpace(answer.String()),
				Transcript: strings.TrimSpace(transcript.String()),
				Model:      model,
				AudioPCM:   audioOut,
				AudioMIME:  audioMIME,
			}, nil
		}
	}
}
