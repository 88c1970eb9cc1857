// Package realtime defines the provider-neutral surface of a remote
// streaming voice session. The gateway's session supervisor speaks only
// these types; provider SDKs are decoded into them at the adapter
// boundary (see the gemini subpackage) and never leak past it.
package realtime

import "context"

// DialOptions configure one physical connection to the remote model.
type DialOptions struct {
	Model        string
	ResumeHandle string

	// DisableActivityDetection turns off server-side VAD; the caller
	// must then bracket audio with SendActivityStart/SendActivityEnd.
	DisableActivityDetection bool

	SystemInstruction string
	Temperature       float64
	MaxOutputTokens   int
	ThinkingBudget    int
}

// Dialer opens remote sessions. Implementations must be safe for
// concurrent use.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Session, error)
}

// Session is one physical connection to the remote model. Send methods
// may be called from multiple goroutines only when externally
// serialized; Receive is single-reader. Close unblocks a pending
// Receive.
type Session interface {
	SendAudio(ctx context.Context, pcm []byte, mimeType string) error
	SendMedia(ctx context.Context, data []byte, mimeType string) error
	SendText(ctx context.Context, text string) error
	SendActivityStart(ctx context.Context) error
	SendActivityEnd(ctx context.Context) error

	// Receive blocks until the next event. It returns io.EOF (or a
	// wrapped transport error) when the remote side is gone.
	Receive(ctx context.Context) (Event, error)

	Close() error
}

// Event is the closed set of things a remote session can report.
type Event interface {
	EventType() string
}

// ActivityStart is the remote model reporting detected user speech.
type ActivityStart struct{}

func (ActivityStart) EventType() string { return "activity_start" }

// InputTranscript is a partial transcription of the user's audio.
type InputTranscript struct {
	Text string
}

func (InputTranscript) EventType() string { return "input_transcript" }

// OutputText is a partial transcription of the model's spoken answer.
type OutputText struct {
	Text string
}

func (OutputText) EventType() string { return "output_text" }

// OutputAudio is a chunk of synthesized answer audio.
type OutputAudio struct {
	Data     []byte
	MIMEType string
}

func (OutputAudio) EventType() string { return "output_audio" }

// TurnComplete marks the end of a model turn.
type TurnComplete struct{}

func (TurnComplete) EventType() string { return "turn_complete" }

// ResumptionUpdate carries a fresh session resumption handle.
type ResumptionUpdate struct {
	Handle    string
	Resumable bool
}

func (ResumptionUpdate) EventType() string { return "resumption_update" }

// GoAway is advance notice that the remote side will drop the
// connection shortly.
type GoAway struct{}

func (GoAway) EventType() string { return "go_away" }
