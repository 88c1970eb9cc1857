package session

import (
	"strings"
	"sync"

	"github.com/aqual-ai/aqual-gateway/pkg/core/audio"
)

// turn accumulates one model turn. Both pumps touch it (the client
// pump records local speech evidence, the remote pump everything
// else), so access is locked internally.
type turn struct {
	mu sync.Mutex

	inputText  strings.Builder
	outputText strings.Builder
	audioBytes int

	hadVoiceActivity bool
	hadLocalSpeech   bool
	hadUserAudio     bool

	respondingSent bool
}

// noteLocalAudio records that user audio passed through, and whether
// it cleared the amplitude gate.
func (t *turn) noteLocalAudio(pcm []byte, threshold float64) {
	speech := audio.HasSpeech(pcm, threshold)
	t.mu.Lock()
	t.hadUserAudio = true
	if speech {
		t.hadLocalSpeech = true
	}
	t.mu.Unlock()
}

func (t *turn) noteVoiceActivity() {
	t.mu.Lock()
	t.hadVoiceActivity = true
	t.mu.Unlock()
}

// addInput appends a partial user transcript and returns the
// accumulated text so far.
func (t *turn) addInput(text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputText.WriteString(text)
	return t.inputText.String()
}

func (t *turn) addOutput(text string) {
	t.mu.Lock()
	t.outputText.WriteString(text)
	t.mu.Unlock()
}

func (t *turn) addAudio(n int) {
	t.mu.Lock()
	t.audioBytes += n
	t.mu.Unlock()
}

// markResponding reports true exactly once per turn.
func (t *turn) markResponding() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.respondingSent {
		return false
	}
	t.respondingSent = true
	return true
}

// finalize decides whether the completed turn is worth surfacing.
// A turn is kept only when some speech evidence was seen and the model
// produced output; everything else is a phantom turn (silence, noise,
// or an empty completion) and is dropped.
func (t *turn) finalize() (answer string, keep bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	answer = strings.TrimSpace(t.outputText.String())
	transcribed := t.hadUserAudio && strings.TrimSpace(t.inputText.String()) != ""
	evidence := t.hadVoiceActivity || t.hadLocalSpeech || transcribed
	content := answer != "" || t.audioBytes > 0
	return answer, evidence && content
}

func (t *turn) reset() {
	t.mu.Lock()
	t.inputText.Reset()
	t.outputText.Reset()
	t.audioBytes = 0
	t.hadVoiceActivity = false
	t.hadLocalSpeech = false
	t.hadUserAudio = false
	t.respondingSent = false
	t.mu.Unlock()
}
