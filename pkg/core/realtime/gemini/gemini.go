// Package gemini adapts the Gemini Live API to the realtime.Session
// surface. It is the only package in the tree that imports
// google.golang.org/genai; server messages are decoded into realtime
// events here and nowhere else.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime"
)

// Dialer opens Gemini Live sessions through a shared API client.
type Dialer struct {
	client *genai.Client
}

// NewDialer builds the shared Gemini client once; individual sessions
// reuse it.
func NewDialer(ctx context.Context, apiKey string) (*Dialer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Dialer{client: client}, nil
}

// Dial connects one live session with the given options.
func (d *Dialer) Dial(ctx context.Context, opts realtime.DialOptions) (realtime.Session, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("gemini: model required")
	}

	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		Temperature:              genai.Ptr(float32(opts.Temperature)),
		MaxOutputTokens:          int32(opts.MaxOutputTokens),
		MediaResolution:          genai.MediaResolutionLow,
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(opts.ThinkingBudget)),
		},
	}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemInstruction}},
		}
	}
	if opts.DisableActivityDetection {
		cfg.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{Disabled: true},
		}
	}
	if opts.ResumeHandle != "" {
		cfg.SessionResumption = &genai.SessionResumptionConfig{Handle: opts.ResumeHandle}
	}

	raw, err := d.client.Live.Connect(ctx, opts.Model, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: connect %s: %w", opts.Model, err)
	}
	return &session{raw: raw}, nil
}

type session struct {
	raw *genai.Session

	// pending holds events decoded from a server message beyond the
	// first; Receive drains it before reading the wire again. Receive
	// is single-reader so no lock is needed for pending or inputActive,
	// but Close may race with sends.
	pending []realtime.Event

	// inputActive tracks whether the current turn has already produced
	// input transcription, so the synthetic speech-start marker fires
	// once per turn instead of once per chunk.
	inputActive bool

	closeOnce sync.Once
	closeErr  error
}

func (s *session) SendAudio(ctx context.Context, pcm []byte, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.raw.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: mimeType},
	})
}

func (s *session) SendMedia(ctx context.Context, data []byte, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.raw.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (s *session) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.raw.SendRealtimeInput(genai.LiveRealtimeInput{Text: text})
}

func (s *session) SendActivityStart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.raw.SendRealtimeInput(genai.LiveRealtimeInput{ActivityStart: &genai.ActivityStart{}})
}

func (s *session) SendActivityEnd(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.raw.SendRealtimeInput(genai.LiveRealtimeInput{ActivityEnd: &genai.ActivityEnd{}})
}

// Receive decodes the next server message. A single wire message can
// carry several logical events (transcription + audio + turn complete);
// extras are queued and returned on subsequent calls.
func (s *session) Receive(ctx context.Context) (realtime.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.raw.Receive()
		if err != nil {
			return nil, fmt.Errorf("gemini: receive: %w", err)
		}
		s.pending = s.decodeServerMessage(msg)
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.raw.Close()
	})
	return s.closeErr
}

func (s *session) decodeServerMessage(msg *genai.LiveServerMessage) []realtime.Event {
	var evs []realtime.Event
	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			// The live stream has no explicit speech-start marker; the
			// first input transcription of a turn is the earliest
			// evidence. Later chunks of the same turn must not re-fire
			// it.
			if !s.inputActive {
				s.inputActive = true
				evs = append(evs, realtime.ActivityStart{})
			}
			evs = append(evs, realtime.InputTranscript{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			evs = append(evs, realtime.OutputText{Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					evs = append(evs, realtime.OutputAudio{
						Data:     part.InlineData.Data,
						MIMEType: part.InlineData.MIMEType,
					})
				}
				if part.Text != "" {
					evs = append(evs, realtime.OutputText{Text: part.Text})
				}
			}
		}
		if sc.TurnComplete {
			s.inputActive = false
			evs = append(evs, realtime.TurnComplete{})
		}
	}
	if ru := msg.SessionResumptionUpdate; ru != nil {
		evs = append(evs, realtime.ResumptionUpdate{
			Handle:    ru.NewHandle,
			Resumable: ru.Resumable,
		})
	}
	if msg.GoAway != nil {
		evs = append(evs, realtime.GoAway{})
	}
	return evs
}
